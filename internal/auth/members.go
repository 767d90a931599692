package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Members is the allow-list mapping account emails to the member label
// written on each expense.
type Members struct {
	byEmail map[string]string
}

// ParseMembers reads "email:Label,email2:Label2". An entry without a label
// uses the part of the email before the @.
func ParseMembers(raw string) (*Members, error) {
	m := &Members{byEmail: make(map[string]string)}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		email, label, _ := strings.Cut(entry, ":")
		email = normalizeEmail(email)
		label = strings.TrimSpace(label)
		if !strings.Contains(email, "@") {
			return nil, fmt.Errorf("invalid allowed member %q", entry)
		}
		if label == "" {
			label = email[:strings.Index(email, "@")]
		}
		m.byEmail[email] = label
	}
	return m, nil
}

// Lookup returns the member label for email.
func (m *Members) Lookup(email string) (string, bool) {
	if m == nil {
		return "", false
	}
	label, ok := m.byEmail[normalizeEmail(email)]
	return label, ok
}

func (m *Members) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byEmail)
}

// Labels lists the distinct member labels, sorted.
func (m *Members) Labels() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, label := range m.byEmail {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// Allows reports whether label belongs to a listed member.
func (m *Members) Allows(label string) bool {
	for _, l := range m.Labels() {
		if strings.EqualFold(l, strings.TrimSpace(label)) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
