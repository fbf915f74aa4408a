package membership

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// Record is the cached membership of one user
type Record struct {
	Username      string    `json:"username"`
	TokenHash     string    `json:"token_hash"`
	Organizations []string  `json:"organizations"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// NewRecord builds a record for token that expires ttl after now
func NewRecord(username, token string, organizations []string, now time.Time, ttl time.Duration) *Record {
	orgs := make([]string, len(organizations))
	copy(orgs, organizations)
	return &Record{
		Username:      username,
		TokenHash:     HashToken(token),
		Organizations: orgs,
		ExpiresAt:     now.Add(ttl),
	}
}

// HashToken returns the hex SHA-256 of token. Raw tokens are never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MatchesToken reports whether the record was produced for token
func (r *Record) MatchesToken(token string) bool {
	hash := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(r.TokenHash), []byte(hash)) == 1
}

// Expired reports whether the record is no longer fresh at now.
// A record is fresh strictly before ExpiresAt.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Valid reports whether the record may be used for token at now
func (r *Record) Valid(token string, now time.Time) bool {
	return r != nil && r.MatchesToken(token) && !r.Expired(now)
}

// HasOrganization reports whether org is among the record's organizations
func (r *Record) HasOrganization(org string) bool {
	for _, o := range r.Organizations {
		if o == org {
			return true
		}
	}
	return false
}

// Cache stores at most one record per username
type Cache interface {
	// Get returns the record for username or ErrCacheMiss
	Get(ctx context.Context, username string) (*Record, error)
	// Put replaces the record for record.Username
	Put(ctx context.Context, record *Record) error
	// Evict removes the record for username, if any
	Evict(ctx context.Context, username string) error
	// Name identifies the backend in logs and metrics
	Name() string
}

func validate(record *Record) error {
	if record == nil || record.Username == "" || record.TokenHash == "" {
		return ErrInvalidRecord
	}
	return nil
}
