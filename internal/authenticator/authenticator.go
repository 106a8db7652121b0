// Package authenticator names the middleware contract the router expects
// from the request identity layer.
package authenticator

import "net/http"

// Authenticator attaches the request principal, if any, to the request context.
// It must not reject requests; route groups decide whether a principal is required.
type Authenticator interface {
	Authenticate(h http.Handler) http.Handler
}
