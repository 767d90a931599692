package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const identityTTL = time.Hour

// User is the signed-in account resolved to an allowed member.
type User struct {
	Email  string
	Member string
}

// Identity resolves the account behind the current token.
type Identity struct {
	service *oauth2api.Service
	guard   *Guard
	members *Members

	cache   sync.Map
	lookups atomic.Int64
}

type cachedUser struct {
	user      User
	timestamp time.Time
}

func NewIdentity(ctx context.Context, guard *Guard, members *Members, opts ...option.ClientOption) (*Identity, error) {
	service, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}
	return &Identity{service: service, guard: guard, members: members}, nil
}

// Resolve returns the member for the current token. The service must send
// requests with the guard's token source. Accounts missing from the
// allow-list get CodeForbidden.
func (i *Identity) Resolve(ctx context.Context) (User, error) {
	token, err := i.guard.AccessToken(ctx)
	if err != nil {
		return User{}, err
	}

	if cached, ok := i.cache.Load(token); ok {
		entry := cached.(cachedUser)
		if time.Since(entry.timestamp) < identityTTL {
			return entry.user, nil
		}
	}

	i.lookups.Add(1)
	info, err := i.service.Userinfo.Get().
		Context(ctx).
		Do()
	if err != nil {
		return User{}, pkgerrors.WrapRemote(err, "read signed-in account")
	}

	member, ok := i.members.Lookup(info.Email)
	if !ok {
		log.Warn().Str("email", info.Email).Msg("Account is not on the allowed member list")
		return User{}, pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s is not an allowed member", info.Email))
	}

	user := User{Email: info.Email, Member: member}
	i.cache.Store(token, cachedUser{user: user, timestamp: time.Now()})

	log.Debug().Str("email", user.Email).Str("member", user.Member).Msg("Resolved signed-in member")
	return user, nil
}

// Lookups counts userinfo calls that missed the cache.
func (i *Identity) Lookups() int64 {
	return i.lookups.Load()
}
