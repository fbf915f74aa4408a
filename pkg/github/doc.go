// Package github is the upstream API gateway used by the registry auth plugin.
//
// # Overview
//
// Three calls are made against GitHub, each as a single attempt with no retry:
//
//	token, err := client.ExchangeCode(ctx, code, clientID, clientSecret) // POST /login/oauth/access_token
//	user, err := client.FetchUser(ctx, token)                            // GET /user
//	orgs, err := client.FetchOrganizations(ctx, token)                   // GET /user/orgs
//
// Every request carries the default headers (User-Agent and a JSON Accept header)
// merged with the per-call headers through MergeHeaders.
//
// # Errors
//
// Transport failures, timeouts, non-2xx statuses, OAuth error bodies and malformed
// JSON all surface as *UpstreamAPIError so callers need a single failure branch:
//
//	var upstreamErr *github.UpstreamAPIError
//	if errors.As(err, &upstreamErr) {
//		// 502 to the requester
//	}
package github
