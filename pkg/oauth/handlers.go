package oauth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/spoke-ghauth/pkg/config"
	"github.com/platinummonkey/spoke-ghauth/pkg/github"
	"github.com/platinummonkey/spoke-ghauth/pkg/httputil"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
)

const (
	// AuthorizePath starts the flow
	AuthorizePath = "/-/oauth/authorize"
	// CallbackPath receives the authorization code from GitHub
	CallbackPath = "/-/oauth/callback"
)

// Provider is the part of the GitHub client the flow needs
type Provider interface {
	AuthorizeURL(clientID, redirectURL string, scopes ...string) string
	ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (string, error)
	FetchUser(ctx context.Context, token string) (*github.User, error)
}

// Handlers handles the OAuth HTTP endpoints
type Handlers struct {
	provider Provider
	config   config.PluginConfig
	logger   logrus.FieldLogger
}

// NewHandlers creates the OAuth handlers
func NewHandlers(provider Provider, cfg config.PluginConfig, logger logrus.FieldLogger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{
		provider: provider,
		config:   cfg,
		logger:   logger,
	}
}

// RegisterRoutes registers the OAuth routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(AuthorizePath, h.Authorize).Methods("GET")
	router.HandleFunc(CallbackPath, h.Callback).Methods("GET")
}

// Authorize handles GET /-/oauth/authorize
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	target := h.provider.AuthorizeURL(h.config.ClientID, h.redirectURL(r), github.ScopeReadOrg)
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles GET /-/oauth/callback
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), h.logger)
	query := r.URL.Query()

	code := query.Get("code")
	if code == "" {
		message := "missing authorization code"
		if reason := query.Get("error_description"); reason != "" {
			message += ": " + reason
		} else if reason := query.Get("error"); reason != "" {
			message += ": " + reason
		}
		httputil.WriteBadRequest(w, message)
		return
	}

	token, err := h.provider.ExchangeCode(r.Context(), code, h.config.ClientID, h.config.ClientSecret)
	if err != nil {
		logger.WithError(err).Warn("Failed to exchange authorization code")
		httputil.WriteBadGateway(w, "failed to exchange authorization code with GitHub")
		return
	}

	user, err := h.provider.FetchUser(r.Context(), token)
	if err != nil {
		logger.WithError(err).Warn("Failed to fetch GitHub user")
		httputil.WriteBadGateway(w, "failed to fetch GitHub user")
		return
	}

	logger.WithField("username", user.Login).Info("Completed GitHub login")
	http.Redirect(w, r, h.uiURL(user.Login, token), http.StatusFound)
}

// redirectURL is the callback address registered with GitHub
func (h *Handlers) redirectURL(r *http.Request) string {
	return h.baseURL(r) + CallbackPath
}

func (h *Handlers) baseURL(r *http.Request) string {
	if h.config.PublicURL != "" {
		return h.config.PublicURL
	}
	return httputil.BaseURL(r)
}

// uiURL is the registry UI root carrying the credentials for the login script
func (h *Handlers) uiURL(username, token string) string {
	root := "/"
	if h.config.PublicURL != "" {
		root = h.config.PublicURL + "/"
	}
	return root + "?token=" + url.QueryEscape(token) +
		"&npmToken=" + url.QueryEscape(token) +
		"&username=" + url.QueryEscape(username)
}
