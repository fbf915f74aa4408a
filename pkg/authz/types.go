package authz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// CacheTTL is how long a membership record may be reused
	CacheTTL = 30 * time.Second

	// SentinelAuthenticated in an access list stands for "any authenticated
	// member of the configured organization".
	SentinelAuthenticated = "$authenticated"
)

// RemoteUser is the identity a host registry carries between calls
type RemoteUser struct {
	Name   string
	Groups []string
}

// PackageAccess describes who may access a package
type PackageAccess struct {
	Name   string
	Access []string
}

// AuthPlugin is the contract between a host registry and this module
type AuthPlugin interface {
	Authenticate(ctx context.Context, username, token string) ([]string, error)
	AllowAccess(user RemoteUser, pkg PackageAccess) ([]string, error)
	AddUser(ctx context.Context, username, password string) error
	ChangePassword(ctx context.Context, username, password, newPassword string) error
}

// OrganizationFetcher lists the organizations of the owner of a token
type OrganizationFetcher interface {
	FetchOrganizations(ctx context.Context, token string) ([]string, error)
}

// AccessDeniedError is returned when a user is not a member of the
// configured organization or lacks a group a package requires.
type AccessDeniedError struct {
	Username     string
	Organization string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %q is not a member of %q", e.Username, e.Organization)
}

// IsAccessDenied reports whether err is or wraps an *AccessDeniedError
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
