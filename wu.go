/*
Package wu implements a unified development server for microfrontend
projects: one process serves every micro-app of a project — across a dozen
UI frameworks — from a single HTTP endpoint, transforming sources just in
time, resolving npm-style specifiers from first principles and pushing
fine-grained hot-reload events to the browser.

Serving

A project is described by a `ProjectConfig`, loaded from wu.config.json
(or a TOML/YAML/INI variant) at the project root, or discovered by
scanning the root's subdirectories:

	s := wu.New()
	s.Root = "."
	if err := s.Serve(); err != nil {
		log.Fatal(err)
	}

Every request is answered from one of the server's overlapping virtual
namespaces: the shell, the per-app directories, the synthetic /@modules/
namespace (bare-specifier resolution) and the HMR endpoints.
*/
package wu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Server is the top-level struct of the dev server.
//
// It is highly recommended not to modify the value of any field of the
// `Server` after calling the `Server.Serve`, which will cause
// unpredictable problems.
type Server struct {
	// AppName is the name of the dev server instance, used in log lines.
	//
	// Default value: "wu"
	AppName string `mapstructure:"app_name"`

	// DebugMode indicates whether the dev server logs debug information.
	//
	// Default value: false
	DebugMode bool `mapstructure:"debug_mode"`

	// Address is the TCP address the server listens on. When empty, the
	// host is localhost and the port comes from the project
	// configuration's proxy entry.
	//
	// Default value: ""
	Address string `mapstructure:"address"`

	// Root is the project root directory.
	//
	// Default value: "."
	Root string `mapstructure:"root"`

	// CacheRoot is the directory holding the on-disk compile cache and
	// the bundled compiler daemon script.
	//
	// Default value: ".wu-cache"
	CacheRoot string `mapstructure:"cache_root"`

	// LogFormat is the header template of the `Logger`'s output.
	//
	// Default value: `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}","level":"{{.level}}"}`
	LogFormat string `mapstructure:"log_format"`

	// MinifierEnabled indicates whether served HTML is minified.
	//
	// Default value: false
	MinifierEnabled bool `mapstructure:"minifier_enabled"`

	// WatchInterval is the period of the file watcher's scan rounds.
	//
	// Default value: 100ms
	WatchInterval time.Duration `mapstructure:"watch_interval"`

	// Gases is the `Gas` chain stack performed around routing.
	//
	// The `Gases` is always FILO.
	//
	// Default value: nil
	Gases []Gas `mapstructure:"-"`

	logger   *Logger
	minifier *minifier
	resolver *resolver
	cache    *compileCache
	broker   *broker
	router   *router
	watcher  *watcher

	slot          hmrSlot
	reloadCounter atomic.Uint64
	stopping      atomic.Bool
	stopCh        chan struct{}

	server     *http.Server
	configPath string

	projectMutex sync.Mutex
	live         *ProjectConfig
	snapshots    []*ProjectConfig

	shutdownJobs     []func()
	shutdownJobMutex *sync.Mutex
	shutdownOnce     *sync.Once
}

// New returns a new instance of the `Server` with default field values.
func New() *Server {
	s := &Server{
		AppName:       "wu",
		Root:          ".",
		CacheRoot:     ".wu-cache",
		LogFormat:     `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}","level":"{{.level}}"}`,
		WatchInterval: 100 * time.Millisecond,

		stopCh:           make(chan struct{}),
		shutdownJobMutex: &sync.Mutex{},
		shutdownOnce:     &sync.Once{},
	}

	s.logger = newLogger(s)
	s.minifier = newMinifier(s)
	s.resolver = newResolver(s)
	s.cache = newCompileCache(s)
	s.broker = newBroker(s)
	s.router = newRouter(s)
	s.watcher = newWatcher(s)
	s.server = &http.Server{}

	return s
}

// Logger returns the server's `Logger`.
func (s *Server) Logger() *Logger {
	return s.logger
}

// project returns the live project snapshot.
func (s *Server) project() *ProjectConfig {
	s.projectMutex.Lock()
	defer s.projectMutex.Unlock()
	return s.live
}

// swapProject atomically replaces the live project snapshot. The prior
// snapshot is retained until shutdown: request goroutines that captured
// entries from it stay valid.
func (s *Server) swapProject(pc *ProjectConfig) {
	s.projectMutex.Lock()
	defer s.projectMutex.Unlock()
	if s.live != nil {
		s.snapshots = append(s.snapshots, s.live)
	}

	s.live = pc
}

// findConfigFile returns the path of the configuration file the project
// uses, or an empty string when the layout was auto-discovered.
func findConfigFile(root string) string {
	for _, name := range configFileNames {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// Serve loads the project configuration and starts the server.
func (s *Server) Serve() error {
	pc, err := LoadProjectConfig(s.Root)
	if err != nil {
		return err
	}

	s.swapProject(pc)
	s.configPath = findConfigFile(s.Root)

	address := s.Address
	if address == "" {
		address = fmt.Sprintf("localhost:%d", pc.Proxy.Port)
	}

	l := newListener(s)
	if err := l.listen(address); err != nil {
		return err
	}
	defer l.Close()

	s.server.Addr = address
	s.server.Handler = s

	s.AddShutdownJob(func() {
		s.cache.teardown()
	})
	s.AddShutdownJob(func() {
		s.broker.teardown()
	})

	go s.watcher.run()

	s.logger.Infof(
		"wu: %s serving %d app(s) on http://%s",
		pc.Name,
		len(pc.Apps),
		l.Addr(),
	)

	return s.server.Serve(l)
}

// Close closes the server immediately.
func (s *Server) Close() error {
	return s.server.Close()
}

// Shutdown gracefully shuts the server down: the stopping flag flips so
// per-connection and HMR goroutines drain, the watcher persists its state,
// the shutdown jobs run once, and the HTTP server stops accepting.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	close(s.stopCh)

	s.shutdownOnce.Do(func() {
		s.shutdownJobMutex.Lock()
		defer s.shutdownJobMutex.Unlock()
		wg := sync.WaitGroup{}
		for _, job := range s.shutdownJobs {
			if job == nil {
				continue
			}

			wg.Add(1)
			go func(job func()) {
				defer wg.Done()
				job()
			}(job)
		}

		wg.Wait()
	})

	return s.server.Shutdown(ctx)
}

// AddShutdownJob adds the f as a shutdown job that runs exactly once when
// the `Shutdown` is called.
func (s *Server) AddShutdownJob(f func()) {
	s.shutdownJobMutex.Lock()
	defer s.shutdownJobMutex.Unlock()
	s.shutdownJobs = append(s.shutdownJobs, f)
}

// Handler defines a function to serve requests.
type Handler func(http.ResponseWriter, *http.Request) error

// Gas defines a function chained into the request-response cycle, for
// example to log every request or recover from panics.
type Gas func(Handler) Handler

// ServeHTTP implements the `http.Handler`.
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if s.stopping.Load() {
		rw.Header().Set("Connection", "close")
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	sw := &statusWriter{ResponseWriter: rw}

	h := s.router.route
	for i := len(s.Gases) - 1; i >= 0; i-- {
		h = s.Gases[i](h)
	}

	if err := h(sw, r); err != nil {
		s.logger.Errorf("wu: %s %s: %v", r.Method, r.URL.Path, err)
		if !sw.written {
			http.Error(
				sw,
				http.StatusText(http.StatusInternalServerError),
				http.StatusInternalServerError,
			)
		}
	}
}

// statusWriter wraps an `http.ResponseWriter`, recording the status, the
// body size and whether a response has started; `ServeHTTP` uses the last
// to decide whether an error may still be answered with a 500.
type statusWriter struct {
	http.ResponseWriter

	status  int
	size    int
	written bool
}

// WriteHeader implements the `http.ResponseWriter`.
func (sw *statusWriter) WriteHeader(status int) {
	if !sw.written {
		sw.status = status
		sw.written = true
	}

	sw.ResponseWriter.WriteHeader(status)
}

// Write implements the `http.ResponseWriter`.
func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.status = http.StatusOK
		sw.written = true
	}

	n, err := sw.ResponseWriter.Write(b)
	sw.size += n
	return n, err
}

// Flush implements the `http.Flusher`, which the SSE stream requires.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements the `http.Hijacker`, which the WebSocket upgrade
// requires.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("wu: response writer cannot hijack")
	}

	sw.written = true
	return h.Hijack()
}
