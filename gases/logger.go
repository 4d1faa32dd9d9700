package gases

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	wu "github.com/LuisPadre25/wu-cli"
)

// LoggerConfig defines the config for the logger gas.
type LoggerConfig struct {
	// Skipper defines a function to skip the gas.
	Skipper Skipper

	// Logger is the destination of the access log lines. Required.
	Logger *wu.Logger
}

// fill keeps all the fields of the `LoggerConfig` filled.
func (c *LoggerConfig) fill() {
	if c.Skipper == nil {
		c.Skipper = defaultSkipper
	}
}

// statusRecorder captures the status a downstream handler wrote.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

// WriteHeader implements the `http.ResponseWriter`.
func (sr *statusRecorder) WriteHeader(status int) {
	if sr.status == 0 {
		sr.status = status
	}

	sr.ResponseWriter.WriteHeader(status)
}

// Write implements the `http.ResponseWriter`.
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}

	return sr.ResponseWriter.Write(b)
}

// Flush implements the `http.Flusher` so the SSE stream keeps working
// through the gas.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements the `http.Hijacker` so the WebSocket upgrade keeps
// working through the gas.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}

	return nil, nil, errors.New("gases: response writer cannot hijack")
}

// Logger returns a gas that logs one line per served request: method,
// path, status and latency.
func Logger(config LoggerConfig) wu.Gas {
	config.fill()

	return func(next wu.Handler) wu.Handler {
		return func(rw http.ResponseWriter, r *http.Request) error {
			if config.Skipper(r) {
				return next(rw, r)
			}

			sr := &statusRecorder{ResponseWriter: rw}
			start := time.Now()
			err := next(sr, r)

			config.Logger.Debugj(map[string]interface{}{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  sr.status,
				"latency": time.Since(start).Microseconds(),
			})

			return err
		}
	}
}
