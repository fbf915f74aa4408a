package middleware

import (
	"path"
	"strings"

	"github.com/platinummonkey/spoke-ghauth/pkg/authz"
)

// PackageRule grants access to packages whose name matches Pattern
type PackageRule struct {
	Pattern string
	Access  []string
}

// PackageRules resolves the access list of a package. The first matching rule
// wins; unmatched packages require an authenticated member.
type PackageRules []PackageRule

// Match returns the access list for the package name
func (rules PackageRules) Match(name string) authz.PackageAccess {
	for _, rule := range rules {
		if matchPattern(rule.Pattern, name) {
			return authz.PackageAccess{Name: name, Access: rule.Access}
		}
	}
	return authz.PackageAccess{Name: name, Access: []string{authz.SentinelAuthenticated}}
}

// matchPattern matches a registry package glob. "**" matches every name,
// otherwise "*" does not cross the scope separator.
func matchPattern(pattern, name string) bool {
	if pattern == "**" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// PackageName extracts the package a registry request addresses from the
// decoded request path (r.URL.Path). It returns false for registry endpoints
// under "/-/" and for the root. The path is not unescaped again.
//
//	/lodash                      -> lodash
//	/lodash/-/lodash-4.17.21.tgz -> lodash
//	/@acme/lib/1.0.0             -> @acme/lib
func PackageName(requestPath string) (string, bool) {
	p := strings.TrimPrefix(requestPath, "/")
	if p == "" || strings.HasPrefix(p, "-/") {
		return "", false
	}

	segments := strings.Split(p, "/")
	if strings.HasPrefix(segments[0], "@") {
		if len(segments) < 2 || segments[1] == "" {
			return "", false
		}
		return segments[0] + "/" + segments[1], true
	}
	return segments[0], true
}
