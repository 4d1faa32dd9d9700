package wu

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// virtual namespace prefixes and endpoints
const (
	hmrSSEPath     = "/__wu_hmr"
	hmrWSPath      = "/__wu_ws"
	modulesPrefix  = "/@modules/"
	clientJSPath   = "/@wu/client.js"
	appsJSONPath   = "/@wu/apps.json"
	manifestSuffix = "/wu.json"
)

// router dispatches a request across the server's overlapping virtual
// namespaces, checked in order: the HMR endpoints, the synthetic module
// namespace, the dev-server endpoints, manifests, CSS modules, the live
// app directories and finally the shell.
type router struct {
	s *Server
}

// newRouter returns a new instance of the `router` with the s.
func newRouter(s *Server) *router {
	return &router{s: s}
}

// route serves one request.
func (rt *router) route(rw http.ResponseWriter, r *http.Request) error {
	s := rt.s

	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		h := rw.Header()
		writeCORS(h)
		rw.WriteHeader(http.StatusNoContent)
		return nil
	default:
		writeCORS(rw.Header())
		http.Error(
			rw,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed,
		)
		return nil
	}

	// net/http has already percent-decoded the path into this request's
	// own buffer.
	path := r.URL.Path

	if strings.Contains(path, "..") {
		writeCORS(rw.Header())
		http.Error(
			rw,
			http.StatusText(http.StatusForbidden),
			http.StatusForbidden,
		)
		return nil
	}

	switch {
	case path == hmrSSEPath:
		s.serveHMRSSE(rw, r)
		return nil
	case path == hmrWSPath && isWebSocketUpgrade(r):
		s.serveHMRWebSocket(rw, r)
		return nil
	case strings.HasPrefix(path, modulesPrefix):
		return s.serveModule(rw, r, path[len(modulesPrefix):])
	case path == clientJSPath:
		respond(rw, http.StatusOK,
			"application/javascript; charset=utf-8",
			s.clientJS(), false)
		return nil
	case path == appsJSONPath:
		respond(rw, http.StatusOK,
			"application/json; charset=utf-8",
			s.appsJSON(), false)
		return nil
	case strings.HasSuffix(path, manifestSuffix):
		return s.serveManifest(rw, r, path)
	case r.URL.Query().Has("import") && strings.HasSuffix(path, ".css"):
		return s.serveCSSModule(rw, r, path)
	}

	if app, rel, ok := s.matchApp(path); ok {
		return s.serveAppFile(rw, r, app, rel)
	}

	return s.serveShell(rw, r, path)
}

// isWebSocketUpgrade reports whether the r asks for a WebSocket upgrade.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(
			strings.ToLower(r.Header.Get("Connection")),
			"upgrade",
		)
}

// matchApp matches the decoded path against the live app directories. The
// path matches when it begins with an app's directory and the next
// character is a slash or the end of the path.
func (s *Server) matchApp(path string) (AppEntry, string, bool) {
	rel := strings.TrimPrefix(path, "/")
	for _, app := range s.project().Apps {
		if !strings.HasPrefix(rel, app.Dir) {
			continue
		}

		rest := rel[len(app.Dir):]
		if rest == "" {
			return app, "", true
		}

		if rest[0] == '/' {
			return app, rest[1:], true
		}
	}

	return AppEntry{}, "", false
}

// writeCORS writes the permissive CORS header set every response carries.
func writeCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}

// respond writes one complete response. Module-namespace bodies are
// immutable for a given mtime and carry a day of cache; everything else is
// uncacheable so edits show up on the next request.
func respond(rw http.ResponseWriter, status int, contentType string, body []byte, moduleNS bool) {
	h := rw.Header()
	writeCORS(h)
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "keep-alive")
	if moduleNS {
		h.Set("Cache-Control", "max-age=86400")
	} else {
		h.Set("Cache-Control", "no-store")
	}

	rw.WriteHeader(status)
	rw.Write(body)
}

// respondNotFound writes a 404 with the uncacheable header set.
func respondNotFound(rw http.ResponseWriter) {
	respond(rw, http.StatusNotFound,
		"text/plain; charset=utf-8",
		[]byte("404 not found"), false)
}

// contentTypeFor returns the content type for the file at the path,
// sniffing the body when the path carries no extension.
func contentTypeFor(path string, body []byte) string {
	if ext := filepath.Ext(path); ext != "" {
		return MIMETypeByExtension(ext)
	}

	return sniffMIMEType(body)
}
