package wu

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// featureFlags are substituted as whole tokens into module bodies so that
// browser-served packages take their development paths without a bundler.
var featureFlags = [][2]string{
	{"process.env.NODE_ENV", `"development"`},
	{"__VUE_OPTIONS_API__", "true"},
	{"__VUE_PROD_DEVTOOLS__", "false"},
	{"__VUE_PROD_HYDRATION_MISMATCH_DETAILS__", "false"},
}

// jsFamilyExts are the extensions run through the source transformer when
// served from disk.
var jsFamilyExts = map[string]bool{
	".js":  true,
	".mjs": true,
	".cjs": true,
	".ts":  true,
	".mts": true,
}

// moduleStub synthesizes the JavaScript served in place of a module that
// could not be resolved or compiled, so the browser surfaces a useful
// message instead of a failed import.
func moduleStub(message string) []byte {
	b, _ := json.Marshal(message)
	return []byte(fmt.Sprintf(
		"console.error(%s);\nexport default {};\n",
		b,
	))
}

// searchDirs returns the module-resolution search directories: the project
// root, the shell and every live app directory.
func (s *Server) searchDirs() []string {
	pc := s.project()
	dirs := []string{
		s.Root,
		filepath.Join(s.Root, pc.Shell.Dir),
	}
	for _, app := range pc.Apps {
		dirs = append(dirs, filepath.Join(s.Root, app.Dir))
	}

	return dirs
}

// serveModule serves a bare specifier out of the /@modules/ namespace:
// resolve, consult the cache, read, wrap or transform, cache, respond.
func (s *Server) serveModule(rw http.ResponseWriter, r *http.Request, spec string) error {
	mod, err := s.resolver.resolve(spec, s.searchDirs())
	if err != nil {
		s.logger.Warnf("wu: cannot resolve %q: %v", spec, err)
		respond(rw, http.StatusOK,
			"application/javascript; charset=utf-8",
			moduleStub("[wu] module not found: "+spec), false)
		return nil
	}

	mtime, err := fileMTime(mod.FilePath)
	if err != nil {
		respond(rw, http.StatusOK,
			"application/javascript; charset=utf-8",
			moduleStub("[wu] module vanished: "+spec), false)
		return nil
	}

	if body := s.cache.get(mod.FilePath, mtime); body != nil {
		respond(rw, http.StatusOK,
			moduleContentType(mod.FilePath), body, true)
		return nil
	}

	src, err := os.ReadFile(mod.FilePath)
	if err != nil {
		return err
	}

	pkg, _ := splitSpecifier(spec)
	ext := strings.ToLower(filepath.Ext(mod.FilePath))
	isJS := jsFamilyExts[ext] || ext == ".jsx" || ext == ".tsx"

	var body []byte
	switch {
	case ext == ".css":
		body = cssModuleBody(string(src), "/@modules/"+spec)
	case ext == ".json":
		body = append([]byte("export default "), src...)
	case isJS && isCommonJS(src):
		body = s.wrapCommonJS(src, filepath.Dir(mod.FilePath))
	case isJS:
		body = transform(src, mod.FilePath, 0)
	default:
		// Packages also ship assets the browser loads directly.
		body = append([]byte{}, src...)
	}

	if isJS {
		body = s.anchorRelativeImports(body, mod, pkg)
		body = substituteFeatureFlags(body)
		body = s.resolveHashImports(body, mod, pkg)
	}

	s.cache.put(mod.FilePath, mtime, body)
	respond(rw, http.StatusOK, moduleContentType(mod.FilePath), body, true)

	return nil
}

// moduleContentType returns the content type a module-namespace response
// carries: JavaScript for everything the pipeline rewrote, the registry
// type for pass-through assets.
func moduleContentType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".css", ".json", "":
		return "application/javascript; charset=utf-8"
	default:
		if jsFamilyExts[ext] || ext == ".jsx" || ext == ".tsx" {
			return "application/javascript; charset=utf-8"
		}

		return MIMETypeByExtension(ext)
	}
}

// anchorRelativeImports rewrites "./x" and "../x" specifiers inside a
// served package to absolute /@modules/<pkg>/... URLs, so the browser
// resolves them against the package's physical layout rather than the
// virtual one.
func (s *Server) anchorRelativeImports(src []byte, mod *ResolvedModule, pkg string) []byte {
	fileDir := filepath.Dir(mod.FilePath)
	return rewriteImportSpecifiers(src, func(spec string) string {
		if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
			return spec
		}

		target := probeFile(fileDir, spec)
		if target == "" {
			return spec
		}

		rel, err := filepath.Rel(mod.PackageDir, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return spec
		}

		return "/@modules/" + pkg + "/" + filepath.ToSlash(rel)
	})
}

// resolveHashImports resolves node-style "#" specifiers against the owning
// package's "imports" field and anchors the result in the module
// namespace.
func (s *Server) resolveHashImports(src []byte, mod *ResolvedModule, pkg string) []byte {
	return rewriteImportSpecifiers(src, func(spec string) string {
		if !strings.HasPrefix(spec, "#") {
			return spec
		}

		target, ok := s.resolver.resolveImports(mod.PackageDir, spec)
		if !ok {
			return spec
		}

		return "/@modules/" + pkg + "/" +
			path.Clean(strings.TrimPrefix(target, "./"))
	})
}

// substituteFeatureFlags replaces each feature-flag token, whole-token
// only, never inside a longer identifier.
func substituteFeatureFlags(src []byte) []byte {
	s := string(src)
	for _, f := range featureFlags {
		s = replaceToken(s, f[0], f[1])
	}

	return []byte(s)
}

// replaceToken replaces whole-token occurrences of the token in the s.
func replaceToken(s, token, repl string) string {
	out := strings.Builder{}
	out.Grow(len(s))

	for {
		i := strings.Index(s, token)
		if i < 0 {
			out.WriteString(s)
			return out.String()
		}

		before := byte(0)
		if i > 0 {
			before = s[i-1]
		}

		after := byte(0)
		if i+len(token) < len(s) {
			after = s[i+len(token)]
		}

		if isIdentByte(before) || before == '.' || isIdentByte(after) {
			out.WriteString(s[:i+len(token)])
			s = s[i+len(token):]
			continue
		}

		out.WriteString(s[:i])
		out.WriteString(repl)
		s = s[i+len(token):]
	}
}

// cssModuleBody wraps a stylesheet into a JavaScript module that installs
// it as a tagged <style> element in the document head.
func cssModuleBody(css, tag string) []byte {
	cssJSON, _ := json.Marshal(css)
	tagJSON, _ := json.Marshal(tag)

	return []byte(fmt.Sprintf(`const css = %s;
let style = document.querySelector('style[data-wu-css=' + JSON.stringify(%s) + ']');
if (!style) {
  style = document.createElement("style");
  style.setAttribute("data-wu-css", %s);
  document.head.appendChild(style);
}
style.textContent = css;
export default css;
`, cssJSON, tagJSON, tagJSON))
}

// serveCSSModule serves an on-disk stylesheet as a JavaScript module; the
// ?import query marks specifiers the transformer tagged.
func (s *Server) serveCSSModule(rw http.ResponseWriter, r *http.Request, p string) error {
	file := filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
	css, err := os.ReadFile(file)
	if err != nil {
		respondNotFound(rw)
		return nil
	}

	respond(rw, http.StatusOK,
		"application/javascript; charset=utf-8",
		cssModuleBody(string(css), p), false)

	return nil
}

// serveAppFile serves a file belonging to a live micro-app, compiling it
// through the broker when its extension requires the app's framework.
func (s *Server) serveAppFile(rw http.ResponseWriter, r *http.Request, app AppEntry, rel string) error {
	if rel == "" {
		rel = "index.html"
	}

	file := filepath.Join(s.Root, app.Dir, filepath.FromSlash(rel))
	ext := strings.ToLower(filepath.Ext(file))

	if needsCompile(ext, app.Framework) {
		return s.serveCompiled(rw, file, app)
	}

	src, err := os.ReadFile(file)
	if err != nil {
		respondNotFound(rw)
		return nil
	}

	switch {
	case ext == ".html":
		src = s.injectIntoHTML(src)
	case jsFamilyExts[ext]:
		src = transform(src, file, s.reloadCounter.Load())
	}

	respond(rw, http.StatusOK, contentTypeFor(file, src), src, false)

	return nil
}

// serveCompiled compiles the file through the broker, consulting the
// two-level cache first. A failed compile answers 200 with an error stub
// so the browser names the file; the source is untouched and the next
// request retries.
func (s *Server) serveCompiled(rw http.ResponseWriter, file string, app AppEntry) error {
	mtime, err := fileMTime(file)
	if err != nil {
		respondNotFound(rw)
		return nil
	}

	reloads := s.reloadCounter.Load()

	if body := s.cache.get(file, mtime); body != nil {
		if reloads > 0 {
			body = stampRelativeImports(body, reloads)
		}

		respond(rw, http.StatusOK,
			"application/javascript; charset=utf-8", body, false)
		return nil
	}

	src, err := os.ReadFile(file)
	if err != nil {
		respondNotFound(rw)
		return nil
	}

	appDir := filepath.Join(s.Root, app.Dir)
	body, err := s.broker.compile(src, file, appDir, app.Framework)
	if err != nil {
		s.logger.Errorf("wu: compile failed for %s: %v", file, err)
		message := "[wu] compile failed: " + file
		if err == ErrCompilerNotFound {
			message = "[wu] no compiler available for: " + file
		}

		respond(rw, http.StatusOK,
			"application/javascript; charset=utf-8",
			moduleStub(message), false)
		return nil
	}

	s.cache.put(file, mtime, body)

	if reloads > 0 {
		body = stampRelativeImports(body, reloads)
	}

	respond(rw, http.StatusOK,
		"application/javascript; charset=utf-8", body, false)

	return nil
}

// injectIntoHTML injects the reload client and the live-app registry into
// an HTML body.
func (s *Server) injectIntoHTML(html []byte) []byte {
	apps := s.appsJSON()
	snippet := hmrClientTag +
		"\n<script>window.__wu_apps = " + string(apps) + ";</script>"

	out := injectHTML(html, snippet)

	if s.MinifierEnabled {
		if m, err := s.minifier.minify("text/html", out); err == nil {
			out = m
		}
	}

	return out
}

// appsJSON serializes the live app list with each app's display color and
// entry-file extension.
func (s *Server) appsJSON() []byte {
	type appRecord struct {
		Name      string `json:"name"`
		Dir       string `json:"dir"`
		Framework string `json:"framework"`
		Color     string `json:"color"`
		Ext       string `json:"ext"`
	}

	pc := s.project()
	records := make([]appRecord, 0, len(pc.Apps))
	for _, app := range pc.Apps {
		records = append(records, appRecord{
			Name:      app.Name,
			Dir:       app.Dir,
			Framework: app.Framework,
			Color:     frameworkColor(app.Framework),
			Ext:       frameworkEntryExt(app.Framework),
		})
	}

	b, _ := json.Marshal(records)
	return b
}

// serveManifest serves a wu.json manifest: the on-disk file when present,
// a synthesized one for a registered app directory, 404 otherwise.
func (s *Server) serveManifest(rw http.ResponseWriter, r *http.Request, p string) error {
	file := filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
	if b, err := os.ReadFile(file); err == nil {
		respond(rw, http.StatusOK,
			"application/json; charset=utf-8", b, false)
		return nil
	}

	dir := strings.TrimSuffix(strings.TrimPrefix(p, "/"), manifestSuffix[1:])
	dir = strings.TrimSuffix(dir, "/")
	for _, app := range s.project().Apps {
		if app.Dir != dir {
			continue
		}

		b, _ := json.Marshal(map[string]interface{}{
			"name":      app.Name,
			"dir":       app.Dir,
			"framework": app.Framework,
			"port":      app.Port,
		})
		respond(rw, http.StatusOK,
			"application/json; charset=utf-8", b, false)
		return nil
	}

	respondNotFound(rw)
	return nil
}

// serveShell serves everything no other namespace claimed, falling through
// the shell's build output and source: dist/<p>, <p>, dist/<p>/index.html.
func (s *Server) serveShell(rw http.ResponseWriter, r *http.Request, p string) error {
	clean := strings.TrimPrefix(p, "/")
	if clean == "" {
		clean = "index.html"
	}

	shellDir := filepath.Join(s.Root, s.project().Shell.Dir)
	candidates := []string{
		filepath.Join(shellDir, "dist", filepath.FromSlash(clean)),
		filepath.Join(shellDir, filepath.FromSlash(clean)),
		filepath.Join(shellDir, "dist", filepath.FromSlash(clean), "index.html"),
	}

	for _, file := range candidates {
		fi, err := os.Stat(file)
		if err != nil || fi.IsDir() {
			continue
		}

		src, err := os.ReadFile(file)
		if err != nil {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file))
		switch {
		case ext == ".html":
			src = s.injectIntoHTML(src)
		case jsFamilyExts[ext]:
			src = transform(src, file, s.reloadCounter.Load())
		}

		respond(rw, http.StatusOK, contentTypeFor(file, src), src, false)
		return nil
	}

	respondNotFound(rw)
	return nil
}
