package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/spoke-ghauth/pkg/authz"
	"github.com/platinummonkey/spoke-ghauth/pkg/github"
	"github.com/platinummonkey/spoke-ghauth/pkg/httputil"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
)

type contextKey string

// RemoteUserKey holds the authz.RemoteUser of an authenticated request
const RemoteUserKey contextKey = "remote_user"

// publicPaths are served without credentials so the registry UI can load and
// start the login flow. Entries ending in "/" match as prefixes, the others
// match exactly.
var publicPaths = []string{
	"/",
	"/-/static/",
	"/-/web/",
	"/-/oauth/",
	"/-/health/",
	"/-/ping",
	"/favicon.ico",
}

var (
	// ErrMissingCredentials is returned when a request carries no usable token
	ErrMissingCredentials = errors.New("authorization required")
	// ErrCredentialMismatch is returned when a Basic username does not own the token
	ErrCredentialMismatch = errors.New("token does not belong to user")
)

// RegistryAuth authenticates registry requests against the organization and
// checks access to the requested package.
type RegistryAuth struct {
	plugin   authz.AuthPlugin
	resolver *LoginResolver
	rules    PackageRules
	logger   logrus.FieldLogger
}

// NewRegistryAuth creates the registry gate
func NewRegistryAuth(plugin authz.AuthPlugin, resolver *LoginResolver, rules PackageRules, logger logrus.FieldLogger) *RegistryAuth {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RegistryAuth{
		plugin:   plugin,
		resolver: resolver,
		rules:    rules,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with authentication and package access checks
func (m *RegistryAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublic(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		username, token, err := m.credentials(ctx, r)
		if err != nil {
			m.writeError(w, r, err)
			return
		}

		groups, err := m.plugin.Authenticate(ctx, username, token)
		if err != nil {
			m.writeError(w, r, err)
			return
		}
		user := authz.RemoteUser{Name: username, Groups: groups}

		if name, ok := PackageName(r.URL.Path); ok {
			if _, err := m.plugin.AllowAccess(user, m.rules.Match(name)); err != nil {
				m.writeError(w, r, err)
				return
			}
		}

		ctx = observability.WithUsername(ctx, username)
		ctx = context.WithValue(ctx, RemoteUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// credentials returns the username and token carried by r
func (m *RegistryAuth) credentials(ctx context.Context, r *http.Request) (string, string, error) {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return "", "", ErrMissingCredentials
	}
	value = strings.TrimSpace(value)

	switch strings.ToLower(scheme) {
	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", "", ErrMissingCredentials
		}
		username, token, ok := strings.Cut(string(decoded), ":")
		if !ok || username == "" || token == "" {
			return "", "", ErrMissingCredentials
		}
		login, err := m.resolver.Resolve(ctx, token)
		if err != nil {
			return "", "", err
		}
		// GitHub logins are case-insensitive
		if !strings.EqualFold(login, username) {
			return "", "", ErrCredentialMismatch
		}
		return login, token, nil
	case "bearer":
		if value == "" {
			return "", "", ErrMissingCredentials
		}
		username, err := m.resolver.Resolve(ctx, value)
		if err != nil {
			return "", "", err
		}
		return username, value, nil
	default:
		return "", "", ErrMissingCredentials
	}
}

func (m *RegistryAuth) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	logger := observability.FromContext(r.Context(), m.logger).WithField("path", r.URL.Path)

	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Basic realm="registry", Bearer realm="registry"`)
		httputil.WriteUnauthorized(w, err.Error())
	case http.StatusForbidden:
		httputil.WriteForbidden(w, err.Error())
	case http.StatusBadGateway:
		logger.WithError(err).Warn("GitHub request failed while authorizing")
		httputil.WriteBadGateway(w, "failed to verify organization membership with GitHub")
	default:
		logger.WithError(err).Error("Authorization failed")
		httputil.WriteInternalError(w, "internal server error")
	}
}

// StatusForError maps authorization errors to HTTP status codes
func StatusForError(err error) int {
	var upstreamErr *github.UpstreamAPIError
	switch {
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrCredentialMismatch):
		return http.StatusUnauthorized
	case authz.IsAccessDenied(err):
		return http.StatusForbidden
	case errors.As(err, &upstreamErr):
		// GitHub rejected the token itself
		if upstreamErr.StatusCode == http.StatusUnauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetRemoteUser extracts the authenticated user from the request
func GetRemoteUser(r *http.Request) (authz.RemoteUser, bool) {
	user, ok := r.Context().Value(RemoteUserKey).(authz.RemoteUser)
	return user, ok
}

func isPublic(r *http.Request) bool {
	for _, public := range publicPaths {
		if r.URL.Path == public {
			return true
		}
		if public != "/" && strings.HasSuffix(public, "/") && strings.HasPrefix(r.URL.Path, public) {
			return true
		}
	}
	return false
}
