// Package plugin assembles the GitHub client, membership cache, authorization
// engine and OAuth handlers from a validated configuration, and registers the
// plugin's HTTP routes on a host router.
package plugin
