// Package webui serves the login script for the registry web UI and injects
// it into the HTML pages the registry returns.
package webui
