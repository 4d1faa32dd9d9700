// Package gases provides the gas chain implementations of the wu dev
// server: request logging, panic recovery and CORS.
package gases

import "net/http"

// Skipper defines a function to skip a gas for a particular request.
type Skipper func(r *http.Request) bool

// defaultSkipper skips nothing.
func defaultSkipper(*http.Request) bool {
	return false
}
