// Package ticket signs short-lived JWTs for connections that passed
// verification so a backend server can trust the proxy's verdict without
// sharing the verified cache.
package ticket
