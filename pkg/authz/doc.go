// Package authz decides whether a registry user may authenticate and access a
// package, based on membership of a single GitHub organization.
//
// Engine implements AuthPlugin, the contract a host registry calls on every
// request. Authenticate reuses a cached membership record while it is fresh
// and bound to the presented token, and otherwise asks GitHub for the token
// owner's organizations. AllowAccess is a pure check of the groups returned by
// Authenticate against the package's access list.
package authz
