package auth

import (
	"context"
	"sync"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Guard hands out access tokens and turns every way of not having one into a
// CodeAuth error.
type Guard struct {
	mu     sync.RWMutex
	source oauth2.TokenSource
}

// NewGuard accepts a nil source; every call then reports CodeAuth until
// SetSource is called.
func NewGuard(source oauth2.TokenSource) *Guard {
	return &Guard{source: source}
}

func (g *Guard) SetSource(source oauth2.TokenSource) {
	g.mu.Lock()
	g.source = source
	g.mu.Unlock()
}

// TokenSource exposes the guarded source for API clients.
func (g *Guard) TokenSource() oauth2.TokenSource {
	return guardedSource{g: g}
}

func (g *Guard) Token(ctx context.Context) (*oauth2.Token, error) {
	g.mu.RLock()
	source := g.source
	g.mu.RUnlock()

	if source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "no google credentials configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "token request cancelled")
	}

	tok, err := source.Token()
	if err != nil {
		log.Warn().Err(err).Msg("Access token unavailable")
		return nil, pkgerrors.WrapRemote(err, "obtain access token")
	}
	if !tok.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "access token expired")
	}
	return tok, nil
}

// AccessToken returns a currently valid bearer token.
func (g *Guard) AccessToken(ctx context.Context) (string, error) {
	tok, err := g.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Check reports whether a token can be obtained right now.
func (g *Guard) Check(ctx context.Context) error {
	_, err := g.Token(ctx)
	return err
}

type guardedSource struct {
	g *Guard
}

func (s guardedSource) Token() (*oauth2.Token, error) {
	return s.g.Token(context.Background())
}
