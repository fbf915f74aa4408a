package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address of the client that sent r, preferring the
// first X-Forwarded-For entry, then X-Real-IP, then the connection address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Scheme returns the scheme the client used, honouring X-Forwarded-Proto
func Scheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		return strings.ToLower(strings.TrimSpace(first))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// BaseURL returns scheme://host for the request as the client addressed it
func BaseURL(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return Scheme(r) + "://" + host
}
