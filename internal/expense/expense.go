package expense

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"expense_sync/internal/columns"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/rows"

	"github.com/shopspring/decimal"
)

const (
	DateLayout   = "2006-01-02"
	DefaultClass = "OpEx"
)

// Expense is the semantic record behind one spreadsheet row.
type Expense struct {
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Vendor      string          `json:"vendor" validate:"required,max=200"`
	Description string          `json:"description,omitempty" validate:"max=500"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"required,max=120"`
	PropertyID  string          `json:"property_id,omitempty" validate:"max=200"`
	PaidVia     string          `json:"paid_via,omitempty" validate:"max=120"`
	Is1099      bool            `json:"is_1099,omitempty"`
	Class       string          `json:"class,omitempty" validate:"max=60"`
	Notes       string          `json:"notes,omitempty" validate:"max=1000"`
	Member      string          `json:"member" validate:"required,max=120"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Receipt is the remote blob an expense row links to.
type Receipt struct {
	FileID   string
	ViewLink string
}

// Normalize trims text fields and fills defaults.
func (e *Expense) Normalize() {
	for _, field := range []*string{&e.Date, &e.Vendor, &e.Description, &e.Category, &e.PropertyID, &e.PaidVia, &e.Class, &e.Notes, &e.Member} {
		*field = strings.TrimSpace(*field)
	}
	if e.Class == "" {
		e.Class = DefaultClass
	}
}

func (e *Expense) Validate() error {
	if err := validate(e); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid expense").
			WithDetails(map[string]string{"amount": "must be greater than 0"})
	}
	return nil
}

// Year of the expense date, falling back to the creation time.
func (e *Expense) Year() int {
	if d, err := time.Parse(DateLayout, e.Date); err == nil {
		return d.Year()
	}
	return e.CreatedAt.Year()
}

// Fields projects the expense onto canonical columns. id is written as the
// ExpenseId; now stamps UpdatedAt and, if unset, CreatedAt.
func (e *Expense) Fields(id string, receipt Receipt, now time.Time) map[columns.Field]string {
	created := e.CreatedAt
	if created.IsZero() {
		created = now
	}

	out := map[columns.Field]string{
		columns.Date:          e.Date,
		columns.Vendor:        e.Vendor,
		columns.Description:   e.Description,
		columns.Amount:        e.Amount.StringFixed(2),
		columns.Category:      e.Category,
		columns.PropertyID:    e.PropertyID,
		columns.PaidVia:       e.PaidVia,
		columns.Is1099:        YesNo(e.Is1099),
		columns.Class:         e.Class,
		columns.Notes:         e.Notes,
		columns.ExpenseID:     id,
		columns.Member:        e.Member,
		columns.ReceiptFileID: receipt.FileID,
		columns.Status:        rows.StatusActive,
		columns.CreatedAt:     created.UTC().Format(time.RFC3339),
		columns.UpdatedAt:     now.UTC().Format(time.RFC3339),
	}
	if receipt.ViewLink != "" {
		out[columns.ReceiptLink] = HyperlinkFormula(receipt.ViewLink, "Receipt")
	}
	return out
}

func YesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// HyperlinkFormula renders a sheet HYPERLINK formula with quotes escaped.
func HyperlinkFormula(url, label string) string {
	esc := func(s string) string { return strings.ReplaceAll(s, `"`, `""`) }
	return fmt.Sprintf(`=HYPERLINK("%s", "%s")`, esc(url), esc(label))
}

// ShortID is the first eight characters of id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// FolderPath is the default Drive folder convention: member, then year.
func (e *Expense) FolderPath() []string {
	member := e.Member
	if member == "" {
		member = "Unassigned"
	}
	return []string{member, fmt.Sprintf("%d", e.Year())}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9]+`)

// FileName is the default receipt file name, e.g.
// 2024-02-14_Home-Depot_42.10_1a2b3c4d.pdf.
func (e *Expense) FileName(id, contentType string) string {
	vendor := strings.Trim(unsafeName.ReplaceAllString(e.Vendor, "-"), "-")
	if vendor == "" {
		vendor = "receipt"
	}
	return fmt.Sprintf("%s_%s_%s_%s%s", e.Date, vendor, e.Amount.StringFixed(2), ShortID(id), Extension(contentType))
}

// Extension maps the receipt content types we accept to a file suffix.
func Extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
