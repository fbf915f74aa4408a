// Package oauth serves the two browser-facing steps of the GitHub
// authorization-code flow: the redirect to GitHub and the callback that trades
// the code for an access token and hands it to the registry UI.
//
// Nothing is kept server-side between the two requests.
package oauth
