package gases

import (
	"net/http"

	wu "github.com/LuisPadre25/wu-cli"
)

// CORSConfig defines the config for the CORS gas.
type CORSConfig struct {
	// Skipper defines a function to skip the gas.
	Skipper Skipper

	// AllowOrigin is the value of the Access-Control-Allow-Origin header.
	//
	// Default value: "*"
	AllowOrigin string

	// AllowMethods is the value of the Access-Control-Allow-Methods
	// header.
	//
	// Default value: "GET, OPTIONS"
	AllowMethods string
}

// fill keeps all the fields of the `CORSConfig` filled.
func (c *CORSConfig) fill() {
	if c.Skipper == nil {
		c.Skipper = defaultSkipper
	}

	if c.AllowOrigin == "" {
		c.AllowOrigin = "*"
	}

	if c.AllowMethods == "" {
		c.AllowMethods = "GET, OPTIONS"
	}
}

// CORS returns a gas that stamps the permissive cross-origin header set on
// every response before routing runs. Micro-apps fetch each other's assets
// freely during development.
func CORS(config CORSConfig) wu.Gas {
	config.fill()

	return func(next wu.Handler) wu.Handler {
		return func(rw http.ResponseWriter, r *http.Request) error {
			if config.Skipper(r) {
				return next(rw, r)
			}

			h := rw.Header()
			h.Set("Access-Control-Allow-Origin", config.AllowOrigin)
			h.Set("Access-Control-Allow-Methods", config.AllowMethods)
			h.Set("Access-Control-Allow-Headers", "*")

			return next(rw, r)
		}
	}
}
