package github

import (
	"net/http"
	"net/textproto"
)

// MergeHeaders returns a new header set holding defaults overlaid with overrides.
// Keys are canonicalised first, so an override replaces the default of the same
// name regardless of case and no override is ever dropped.
func MergeHeaders(defaults, overrides http.Header) http.Header {
	merged := make(http.Header, len(defaults)+len(overrides))
	for key, values := range defaults {
		merged[textproto.CanonicalMIMEHeaderKey(key)] = append([]string(nil), values...)
	}
	for key, values := range overrides {
		merged[textproto.CanonicalMIMEHeaderKey(key)] = append([]string(nil), values...)
	}
	return merged
}

// headerTransport applies the default headers to requests it did not build
// itself, e.g. the token exchange issued by golang.org/x/oauth2.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header = MergeHeaders(t.headers, req.Header)
	return t.base.RoundTrip(clone)
}
