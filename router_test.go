package wu

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// perform runs one request through the server and returns the recorder.
func perform(s *Server, method, target string) *httptest.ResponseRecorder {
	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(method, target, nil))
	return rw
}

// testRouterProject builds a fuller project for router tests.
func testRouterProject(t *testing.T) *Server {
	t.Helper()

	root := t.TempDir()
	writeFixture(t, root, "shell/index.html",
		"<html><head><title>p</title></head><body></body></html>")
	writeFixture(t, root, "shell/dist/bundle.js", "console.log(1);")
	writeFixture(t, root, "mf-header/src/main.jsx",
		"import \"./app.css\";\nexport default function App() {\n  return <h1>Header</h1>;\n}\n")
	writeFixture(t, root, "mf-header/src/app.css", "h1 { color: red; }")
	writeFixture(t, root, "mf-header/src/util.ts",
		"export const n: number = 1;")
	writeFixture(t, root, "node_modules/lit-html/package.json",
		`{"name":"lit-html","main":"lit-html.js"}`)
	writeFixture(t, root, "node_modules/lit-html/lit-html.js",
		"export const html = () => {};")

	s := New()
	s.Root = root
	s.CacheRoot = filepath.Join(root, ".wu-cache")
	s.swapProject(&ProjectConfig{
		Name:  "p",
		Shell: ShellEntry{Dir: "shell", Port: 4321, Framework: "vanilla"},
		Apps: []AppEntry{
			{Name: "header", Dir: "mf-header", Framework: "react", Port: 5001},
		},
		Proxy: ProxyEntry{Port: 3000},
	})

	return s
}

func TestRouterMethodNotAllowed(t *testing.T) {
	s := testRouterProject(t)

	for _, method := range []string{
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodPatch,
	} {
		rw := perform(s, method, "/")
		assert.Equal(t, http.StatusMethodNotAllowed, rw.Code, method)
	}
}

func TestRouterOptions(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodOptions, "/anything")

	assert.Equal(t, http.StatusNoContent, rw.Code)
	assert.Equal(t, "*", rw.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterTraversalForbidden(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/shell/../../../etc/passwd")

	assert.Equal(t, http.StatusForbidden, rw.Code)
}

func TestRouterShellIndexInjection(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/")

	assert.Equal(t, http.StatusOK, rw.Code)
	body := rw.Body.String()
	assert.Contains(t, body, `src="/@wu/client.js"`)
	assert.Contains(t, body, "window.__wu_apps = ")

	// Injection lands before the closing head tag.
	assert.Less(
		t,
		indexOf(body, "/@wu/client.js"),
		indexOf(body, "</head>"),
	)
	assert.Contains(t, rw.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", rw.Header().Get("Cache-Control"))
}

// indexOf is a tiny helper keeping the assertions readable.
func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}

	return -1
}

func TestRouterShellDistFile(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/bundle.js")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "console.log(1);")
}

func TestRouterClientJS(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/@wu/client.js")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rw.Body.String(), "__wu_hmr")
}

func TestRouterAppsJSON(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/@wu/apps.json")

	assert.Equal(t, http.StatusOK, rw.Code)

	var apps []map[string]interface{}
	assert.NoError(t, json.Unmarshal(rw.Body.Bytes(), &apps))
	assert.Len(t, apps, 1)
	assert.Equal(t, "header", apps[0]["name"])
	assert.Equal(t, "#61dafb", apps[0]["color"])
	assert.Equal(t, "jsx", apps[0]["ext"])
}

func TestRouterManifestSynthesized(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/mf-header/wu.json")

	assert.Equal(t, http.StatusOK, rw.Code)

	var m map[string]interface{}
	assert.NoError(t, json.Unmarshal(rw.Body.Bytes(), &m))
	assert.Equal(t, "header", m["name"])
	assert.Equal(t, "react", m["framework"])
}

func TestRouterManifestFromDisk(t *testing.T) {
	s := testRouterProject(t)
	writeFixture(t, s.Root, "mf-header/wu.json", `{"name":"on-disk"}`)

	rw := perform(s, http.MethodGet, "/mf-header/wu.json")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "on-disk")
}

func TestRouterManifestUnknown(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/nowhere/wu.json")

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestRouterAppJSXCompiled(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/mf-header/src/main.jsx")

	assert.Equal(t, http.StatusOK, rw.Code)
	body := rw.Body.String()
	assert.Contains(t, body, "__jsx(")
	assert.Contains(t, body, "/@modules/react")
	assert.Contains(t, body, "./app.css?import")
}

func TestRouterAppTSStripped(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/mf-header/src/util.ts")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "export const n = 1;")
	assert.Contains(t, rw.Header().Get("Content-Type"), "javascript")
}

func TestRouterCSSRaw(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/mf-header/src/app.css")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Header().Get("Content-Type"), "text/css")
	assert.Contains(t, rw.Body.String(), "color: red")
}

func TestRouterCSSAsModule(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/mf-header/src/app.css?import")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Header().Get("Content-Type"), "javascript")
	body := rw.Body.String()
	assert.Contains(t, body, "data-wu-css")
	assert.Contains(t, body, "style.textContent = css;")
	assert.Contains(t, body, "export default css;")
}

func TestRouterModuleServed(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/@modules/lit-html")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "export const html")
	assert.Equal(t, "max-age=86400", rw.Header().Get("Cache-Control"))

	// A second request hits the cache and stays identical.
	rw2 := perform(s, http.MethodGet, "/@modules/lit-html")
	assert.Equal(t, rw.Body.String(), rw2.Body.String())
}

func TestRouterModuleMissStub(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/@modules/no-such-package")

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "console.error")
	assert.Contains(t, rw.Body.String(), "no-such-package")
}

func TestRouterNotFound(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/missing/file.js")

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestRouterKeepAliveHeader(t *testing.T) {
	s := testRouterProject(t)
	rw := perform(s, http.MethodGet, "/")

	assert.Equal(t, "keep-alive", rw.Header().Get("Connection"))
	assert.NotEmpty(t, rw.Header().Get("Content-Length"))
}
