// Package httputil provides HTTP utilities shared by the gate's handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "missing code")
//	httputil.WriteUnauthorized(w, "authorization required")
//	httputil.WriteForbidden(w, err.Error())
//	httputil.WriteBadGateway(w, "github request failed")
//
// Every error body has the shape {"error": "<message>"}.
//
// # Request Helpers
//
//	ip := httputil.ClientIP(r)
//	base := httputil.BaseURL(r) // scheme://host as seen by the client
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)
package httputil
