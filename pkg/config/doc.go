// Package config loads the gate's configuration from a YAML file and
// environment variables.
//
// # File layout
//
// The file follows the registry plugin layout, so an existing registry
// configuration can be reused:
//
//	listen: ":8080"
//	upstream: "http://localhost:4873"
//	user_agent: "ghauth"
//	web:
//	  enable: true
//	auth:
//	  github-oauth-ui:
//	    org: acme
//	middlewares:
//	  github-oauth-ui:
//	    client-id: 0123abcd
//	    client-secret: s3cr3t
//	cache:
//	  backend: redis
//	  redis_url: redis://localhost:6379/0
//	packages:
//	  - pattern: "@acme/*"
//	    access: ["$authenticated"]
//
// # Environment overrides
//
//	GHAUTH_CONFIG="/etc/ghauth/config.yaml"
//	GHAUTH_LISTEN=":8080"
//	GHAUTH_ORG="acme"
//	GHAUTH_CLIENT_ID="0123abcd"
//	GHAUTH_CLIENT_SECRET="s3cr3t"
//	GHAUTH_UPSTREAM="http://localhost:4873"
//	GHAUTH_PUBLIC_URL="https://registry.example.com"
//	GHAUTH_REDIS_URL="redis://localhost:6379/0"
//	GHAUTH_LOG_LEVEL="debug"
//
// # Validation
//
// Validate reports every missing required setting at once as a
// *ConfigurationError. The caller decides whether that is fatal.
package config
