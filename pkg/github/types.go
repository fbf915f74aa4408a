package github

// User is the authenticated GitHub user returned by GET /user.
type User struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	HTMLURL   string `json:"html_url,omitempty"`
}

// Organization is one entry of GET /user/orgs.
type Organization struct {
	Login       string `json:"login"`
	ID          int64  `json:"id"`
	Description string `json:"description,omitempty"`
}

// Operation names, also used as metric labels.
const (
	OpExchangeCode       = "exchange_code"
	OpFetchUser          = "fetch_user"
	OpFetchOrganizations = "fetch_organizations"
)

// ScopeReadOrg is the OAuth scope needed to list private organization memberships.
const ScopeReadOrg = "read:org"
