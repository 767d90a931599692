package notifications

import (
	"fmt"
	"strings"
)

const maxListed = 10

// FailedItem describes a queue item that will no longer be retried.
type FailedItem struct {
	ID        string
	Kind      string
	Summary   string
	ErrorCode string
	Error     string
}

func (f FailedItem) label() string {
	if f.Summary != "" {
		return f.Summary
	}
	return f.ID
}

// message is one ntfy post: the title goes in a header, the body is the
// request payload.
type message struct {
	title string
	body  string
}

func digestMessage(items []FailedItem) message {
	title := "1 expense item needs attention"
	if len(items) != 1 {
		title = fmt.Sprintf("%d expense items need attention", len(items))
	}

	lines := make([]string, 0, min(len(items), maxListed)+1)
	for _, item := range items[:min(len(items), maxListed)] {
		lines = append(lines, fmt.Sprintf("%s %s: %s", item.Kind, item.label(), item.ErrorCode))
	}
	if extra := len(items) - maxListed; extra > 0 {
		lines = append(lines, fmt.Sprintf("+%d more, see `expense-sync status`", extra))
	}
	return message{title: title, body: strings.Join(lines, "\n")}
}

func itemMessage(item FailedItem, n, total int) message {
	title := "Expense item failed"
	if total > 1 {
		title = fmt.Sprintf("Expense item failed (%d of %d)", n, total)
	}

	lines := []string{item.Kind + " " + item.label(), "Item: " + item.ID}
	if item.Error != "" {
		lines = append(lines, fmt.Sprintf("[%s] %s", item.ErrorCode, item.Error))
	}
	return message{title: title, body: strings.Join(lines, "\n")}
}
