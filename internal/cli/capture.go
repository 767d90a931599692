package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"expense_sync/internal/app"
	"expense_sync/internal/auth"
	"expense_sync/internal/capture"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/expense"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Date        string
	Vendor      string
	Description string
	Amount      string
	Category    string
	PropertyID  string
	PaidVia     string
	Is1099      bool
	Class       string
	Notes       string
	Member      string
	Receipt     string
	ContentType string
}

func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record an expense with its receipt",
		Long: `Record an expense. When online the receipt is uploaded and the row written
right away; otherwise the expense is saved to the local queue and synced later.

Example:
  expense-sync capture --vendor "Home Depot" --amount 42.17 --category Repairs \
    --property "12 Elm St" --receipt ./receipt.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Date, "date", "", "expense date, YYYY-MM-DD (default today)")
	f.StringVar(&opts.Vendor, "vendor", "", "vendor name (required)")
	f.StringVar(&opts.Description, "description", "", "what was bought")
	f.StringVar(&opts.Amount, "amount", "", "amount, e.g. 42.17 (required)")
	f.StringVar(&opts.Category, "category", "", "expense category (required)")
	f.StringVar(&opts.PropertyID, "property", "", "property the expense belongs to")
	f.StringVar(&opts.PaidVia, "paid-via", "", "payment method")
	f.BoolVar(&opts.Is1099, "1099", false, "vendor receives a 1099")
	f.StringVar(&opts.Class, "class", "", "accounting class (default "+expense.DefaultClass+")")
	f.StringVar(&opts.Notes, "notes", "", "free-form notes")
	f.StringVar(&opts.Member, "member", "", "member label (default: resolved from the signed-in account)")
	f.StringVar(&opts.Receipt, "receipt", "", "path to the receipt file (required)")
	f.StringVar(&opts.ContentType, "content-type", "", "receipt MIME type (default: detected)")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("receipt")

	return cmd
}

func runCapture(cmd *cobra.Command, opts *CaptureOptions) error {
	ctx := commandContext(cmd)

	amount, err := decimal.NewFromString(strings.TrimSpace(opts.Amount))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid amount",
			pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("amount %q is not a number", opts.Amount)))
	}

	receipt, err := os.ReadFile(opts.Receipt)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipt", err)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(receipt)
	}

	a, err := opts.build(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	resolver := memberResolver{identity: a.Identity, members: a.Members, remembered: a.SettingsStore}
	member, err := resolver.resolve(ctx, opts.Member)
	if err != nil {
		return WrapExitError(ExitFailure, "unknown member", err)
	}

	date := opts.Date
	if date == "" {
		date = time.Now().Format(expense.DateLayout)
	}

	out, err := a.Capture.Capture(ctx, capture.Request{
		Expense: expense.Expense{
			Date:        date,
			Vendor:      opts.Vendor,
			Description: opts.Description,
			Amount:      amount,
			Category:    opts.Category,
			PropertyID:  opts.PropertyID,
			PaidVia:     opts.PaidVia,
			Is1099:      opts.Is1099,
			Class:       opts.Class,
			Notes:       opts.Notes,
			Member:      member,
		},
		Receipt:     receipt,
		ContentType: contentType,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "expense not recorded", err)
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		if out.Synced {
			fmt.Fprintf(w, "Expense %s synced to row %d\n", expense.ShortID(out.ExpenseID), out.Row)
			return
		}
		fmt.Fprintf(w, "Expense %s saved offline; it will sync when possible (%s)\n", expense.ShortID(out.ExpenseID), out.Reason)
	})
}

type identityResolver interface {
	Resolve(ctx context.Context) (auth.User, error)
}

type rememberedMember interface {
	RememberMember(ctx context.Context, email, member string) error
	LastMember(ctx context.Context) (email, member string, err error)
}

// memberResolver picks the member an expense is attributed to.
type memberResolver struct {
	identity   identityResolver
	members    *auth.Members
	remembered rememberedMember
}

// resolve checks an explicit label against the allow-list, or asks the
// signed-in account. When the account cannot be read (offline, token
// trouble) the last member resolved online is used so the capture can still
// be queued. An account that is not allowed never falls back.
func (r memberResolver) resolve(ctx context.Context, explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		if r.members.Len() > 0 && !r.members.Allows(explicit) {
			return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%q is not an allowed member", explicit)).
				WithDetails(map[string]any{"allowed": r.members.Labels()})
		}
		return explicit, nil
	}

	user, err := r.identity.Resolve(ctx)
	if err == nil {
		if saveErr := r.remembered.RememberMember(ctx, user.Email, user.Member); saveErr != nil {
			log.Warn().Err(saveErr).Msg("Could not remember signed-in member")
		}
		return user.Member, nil
	}
	if pkgerrors.CodeOf(err) == pkgerrors.CodeForbidden {
		return "", err
	}

	email, member, lastErr := r.remembered.LastMember(ctx)
	if lastErr != nil || member == "" || (r.members.Len() > 0 && !r.members.Allows(member)) {
		return "", err
	}
	log.Warn().Err(err).Str("email", email).Str("member", member).Msg("Signed-in account unavailable, using last known member")
	return member, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing services")
	}
}
