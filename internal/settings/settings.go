package settings

import (
	"context"
	"errors"
	"time"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mainKey = "main"

// Record is the persisted remote configuration.
type Record struct {
	Key           string `gorm:"primaryKey;size:32"`
	SpreadsheetID string
	DriveFolderID string
	ClientID      string
	// Last account resolved while online, used when capturing offline.
	LastEmail  string
	LastMember string
	UpdatedAt  time.Time
}

func (Record) TableName() string {
	return "settings"
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the stored record, or an empty one when nothing was saved yet.
func (s *Store) Load(ctx context.Context) (Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where(&Record{Key: mainKey}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{Key: mainKey}, nil
	}
	if err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeDurability, err, "load settings")
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec Record) error {
	rec.Key = mainKey
	rec.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDurability, err, "save settings")
	}
	return nil
}

// Resolve merges env over the stored record. Non-empty env values win, and
// the merged record is saved when it differs from what was stored.
func (s *Store) Resolve(ctx context.Context, env Record) (Record, error) {
	stored, err := s.Load(ctx)
	if err != nil {
		return Record{}, err
	}

	merged := stored
	overlay(&merged.SpreadsheetID, env.SpreadsheetID)
	overlay(&merged.DriveFolderID, env.DriveFolderID)
	overlay(&merged.ClientID, env.ClientID)

	if merged.SpreadsheetID == stored.SpreadsheetID &&
		merged.DriveFolderID == stored.DriveFolderID &&
		merged.ClientID == stored.ClientID &&
		!stored.UpdatedAt.IsZero() {
		return stored, nil
	}

	if err := s.Save(ctx, merged); err != nil {
		return Record{}, err
	}
	log.Debug().
		Str("spreadsheet_id", merged.SpreadsheetID).
		Str("drive_folder_id", merged.DriveFolderID).
		Msg("Settings updated from environment")
	return s.Load(ctx)
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// RememberMember records the member behind the signed-in account so later
// captures can be attributed without reaching Google.
func (s *Store) RememberMember(ctx context.Context, email, member string) error {
	rec, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if rec.LastEmail == email && rec.LastMember == member {
		return nil
	}
	rec.LastEmail = email
	rec.LastMember = member
	return s.Save(ctx, rec)
}

// LastMember returns the most recently remembered member, or "" when none.
func (s *Store) LastMember(ctx context.Context) (email, member string, err error) {
	rec, err := s.Load(ctx)
	if err != nil {
		return "", "", err
	}
	return rec.LastEmail, rec.LastMember, nil
}
