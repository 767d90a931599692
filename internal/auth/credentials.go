package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested for every credential type.
var Scopes = []string{
	drive.DriveFileScope,
	sheets.SpreadsheetsScope,
	oauth2api.UserinfoEmailScope,
}

// Credentials says where to find Google credentials. A service account file
// wins over a stored user token.
type Credentials struct {
	CredentialsFile string
	TokenFile       string
	ClientID        string
	ClientSecret    string
}

// NewTokenSource builds a token source from the first usable credential. It
// returns CodeAuth when nothing is configured or the stored token is missing,
// which leaves the interactive consent flow to the operator.
func NewTokenSource(ctx context.Context, creds Credentials) (oauth2.TokenSource, error) {
	if creds.CredentialsFile != "" {
		data, err := os.ReadFile(creds.CredentialsFile)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeAuth, err, "read credentials file")
		}
		googleCreds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeAuth, err, "parse credentials file")
		}
		log.Debug().Str("file", creds.CredentialsFile).Msg("Using service account credentials")
		return googleCreds.TokenSource, nil
	}

	if creds.TokenFile == "" || creds.ClientID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "no google credentials configured")
	}

	tok, err := LoadToken(creds.TokenFile)
	if err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
	log.Debug().Str("file", creds.TokenFile).Msg("Using stored user token")
	return &savingSource{
		base: conf.TokenSource(ctx, tok),
		path: creds.TokenFile,
		last: tok.AccessToken,
	}, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeAuth, err, "read token file")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeAuth, err, "parse token file")
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "token file holds no token")
	}
	return &tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, path)
}

// savingSource writes refreshed tokens back to disk so a restart does not
// need a fresh consent.
type savingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			log.Warn().Err(err).Str("file", s.path).Msg("Failed to persist refreshed token")
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
