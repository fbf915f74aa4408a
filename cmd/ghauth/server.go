package main

import (
	"fmt"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/spoke-ghauth/pkg/config"
	"github.com/platinummonkey/spoke-ghauth/pkg/httputil"
	"github.com/platinummonkey/spoke-ghauth/pkg/middleware"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
	"github.com/platinummonkey/spoke-ghauth/pkg/plugin"
)

type handlerDeps struct {
	config    *config.Config
	plugin    *plugin.Plugin
	health    *observability.HealthChecker
	metrics   *observability.Metrics
	registry  *prometheus.Registry
	logger    logrus.FieldLogger
	transport http.RoundTripper
}

// newHandler routes health, metrics and OAuth endpoints locally and proxies
// everything else to the upstream registry behind the organization gate.
func newHandler(deps handlerDeps) (http.Handler, error) {
	router := mux.NewRouter()
	router.Use(
		mux.MiddlewareFunc(httputil.RequestIDMiddleware(deps.logger)),
		mux.MiddlewareFunc(httputil.LoggingMiddleware(deps.logger)),
		mux.MiddlewareFunc(httputil.RecoveryMiddleware(deps.logger)),
		observability.HTTPMetricsMiddleware(deps.metrics),
	)

	observability.RegisterHealthRoutes(router, deps.health)
	if deps.metrics != nil {
		router.Handle("/metrics", observability.MetricsHandler(deps.registry)).Methods("GET")
	}

	deps.plugin.RegisterRoutes(router)

	proxy, err := newProxy(deps.config.Upstream, deps.transport, deps.plugin.ModifyResponse(), deps.logger)
	if err != nil {
		return nil, err
	}
	gate := deps.plugin.RegistryAuth(packageRules(deps.config.Packages))
	router.PathPrefix("/").Handler(gate.Handler(proxy))

	return router, nil
}

// newProxy forwards requests to the upstream registry. modify, when set, may
// rewrite proxied responses.
func newProxy(upstream string, transport http.RoundTripper, modify func(*http.Response) error, logger logrus.FieldLogger) (*stdhttputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", upstream)
	}
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	return &stdhttputil.ReverseProxy{
		Rewrite: func(pr *stdhttputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if modify != nil {
				// Let the transport negotiate gzip so HTML can be rewritten
				pr.Out.Header.Del("Accept-Encoding")
			}
		},
		Transport:      transport,
		ModifyResponse: modify,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			observability.FromContext(r.Context(), logger).WithError(err).Error("Upstream registry request failed")
			httputil.WriteBadGateway(w, "registry upstream unavailable")
		},
	}, nil
}

func packageRules(rules []config.PackageRule) middleware.PackageRules {
	out := make(middleware.PackageRules, 0, len(rules))
	for _, rule := range rules {
		out = append(out, middleware.PackageRule{Pattern: rule.Pattern, Access: rule.Access})
	}
	return out
}
