package gases

import (
	"fmt"
	"net/http"
	"runtime"

	wu "github.com/LuisPadre25/wu-cli"
)

// RecoverConfig defines the config for the recover gas.
type RecoverConfig struct {
	// Skipper defines a function to skip the gas.
	Skipper Skipper

	// StackSize is the size of the stack to be printed.
	//
	// Default value: 4 KB
	StackSize int

	// Logger is used to report recovered panics. Required.
	Logger *wu.Logger
}

// fill keeps all the fields of the `RecoverConfig` filled.
func (c *RecoverConfig) fill() {
	if c.Skipper == nil {
		c.Skipper = defaultSkipper
	}

	if c.StackSize == 0 {
		c.StackSize = 4 << 10
	}
}

// Recover returns a gas that recovers from panics anywhere below it in the
// chain and answers a 500, keeping the connection usable. Nothing below
// the router level is allowed to be fatal.
func Recover(config RecoverConfig) wu.Gas {
	config.fill()

	return func(next wu.Handler) wu.Handler {
		return func(rw http.ResponseWriter, r *http.Request) (err error) {
			if config.Skipper(r) {
				return next(rw, r)
			}

			defer func() {
				v := recover()
				if v == nil {
					return
				}

				e, ok := v.(error)
				if !ok {
					e = fmt.Errorf("%v", v)
				}

				stack := make([]byte, config.StackSize)
				length := runtime.Stack(stack, false)
				config.Logger.Errorf(
					"wu: panic serving %s %s: %v\n%s",
					r.Method,
					r.URL.Path,
					e,
					stack[:length],
				)

				err = e
			}()

			return next(rw, r)
		}
	}
}
