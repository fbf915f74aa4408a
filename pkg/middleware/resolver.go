package middleware

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/spoke-ghauth/pkg/github"
	"github.com/platinummonkey/spoke-ghauth/pkg/membership"
)

// UserFetcher looks up the owner of a token
type UserFetcher interface {
	FetchUser(ctx context.Context, token string) (*github.User, error)
}

// LoginResolver maps bearer tokens to GitHub logins. Results are kept by token
// hash for ttl.
type LoginResolver struct {
	fetcher UserFetcher
	logins  *lru.LRU[string, string]
	group   singleflight.Group
}

// NewLoginResolver creates a resolver remembering up to size tokens
func NewLoginResolver(fetcher UserFetcher, size int, ttl time.Duration) *LoginResolver {
	if size <= 0 {
		size = membership.DefaultMemorySize
	}
	return &LoginResolver{
		fetcher: fetcher,
		logins:  lru.NewLRU[string, string](size, nil, ttl),
	}
}

// Resolve returns the login owning token. Concurrent lookups of one token
// share a single GitHub call that a canceled caller does not abort.
func (r *LoginResolver) Resolve(ctx context.Context, token string) (string, error) {
	key := membership.HashToken(token)
	if login, ok := r.logins.Get(key); ok {
		return login, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	results := r.group.DoChan(key, func() (interface{}, error) {
		user, err := r.fetcher.FetchUser(flightCtx, token)
		if err != nil {
			return "", err
		}
		r.logins.Add(key, user.Login)
		return user.Login, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
