package wu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// writeFixture writes a file under the dir, creating parents.
func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	assert.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	assert.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestSplitSpecifier(t *testing.T) {
	for _, c := range []struct{ in, pkg, sub string }{
		{"react", "react", ""},
		{"react/jsx-runtime", "react", "jsx-runtime"},
		{"@angular/core", "@angular/core", ""},
		{"@scope/pkg/deep/file.js", "@scope/pkg", "deep/file.js"},
	} {
		pkg, sub := splitSpecifier(c.in)
		assert.Equal(t, c.pkg, pkg, c.in)
		assert.Equal(t, c.sub, sub, c.in)
	}
}

func TestResolveScopedExports(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/@angular/core/package.json",
		`{"name":"@angular/core","exports":{".":{"import":"./fesm2022/core.mjs"}}}`)
	writeFixture(t, root, "node_modules/@angular/core/fesm2022/core.mjs",
		"export const VERSION = '17';")

	r := newResolver(New())
	mod, err := r.resolve("@angular/core", []string{root})
	assert.NoError(t, err)
	assert.True(t, filepath.IsAbs(mod.FilePath) || mod.FilePath != "")
	assert.True(t, len(mod.FilePath) > 0)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "fesm2022/core.mjs")
	assert.True(t, mod.IsESM)
}

func TestResolveModuleField(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/widgetlib/package.json",
		`{"name":"widgetlib","module":"dist/index.esm.js","main":"dist/index.cjs.js"}`)
	writeFixture(t, root, "node_modules/widgetlib/dist/index.esm.js", "export {};")
	writeFixture(t, root, "node_modules/widgetlib/dist/index.cjs.js", "module.exports = {};")

	mod, err := newResolver(New()).resolve("widgetlib", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "index.esm.js")
	assert.True(t, mod.IsESM)
}

func TestResolveMainFallthrough(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/old/package.json",
		`{"name":"old","module":"missing.js","main":"lib/old.js"}`)
	writeFixture(t, root, "node_modules/old/lib/old.js", "module.exports = 1;")

	mod, err := newResolver(New()).resolve("old", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "lib/old.js")
	assert.False(t, mod.IsESM)
}

func TestResolveIndexJS(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/plain/package.json", `{"name":"plain"}`)
	writeFixture(t, root, "node_modules/plain/index.js", "module.exports = {};")

	mod, err := newResolver(New()).resolve("plain", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "plain/index.js")
}

func TestResolveSubpathWithoutExports(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/lodash/package.json",
		`{"name":"lodash","main":"index.js"}`)
	writeFixture(t, root, "node_modules/lodash/index.js", "")
	writeFixture(t, root, "node_modules/lodash/debounce.js", "module.exports = () => {};")

	mod, err := newResolver(New()).resolve("lodash/debounce", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "lodash/debounce.js")
}

func TestResolveSubpathExportsMap(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/react/package.json",
		`{"name":"react","exports":{".":"./index.js","./jsx-runtime":"./jsx-runtime.js"}}`)
	writeFixture(t, root, "node_modules/react/index.js", "")
	writeFixture(t, root, "node_modules/react/jsx-runtime.js", "")

	mod, err := newResolver(New()).resolve("react/jsx-runtime", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "jsx-runtime.js")
}

func TestResolveSkipsTypesEntries(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/typed/package.json",
		`{"name":"typed","exports":{".":{"types":"./index.d.ts","import":"./index.mjs"}}}`)
	writeFixture(t, root, "node_modules/typed/index.d.ts", "")
	writeFixture(t, root, "node_modules/typed/index.mjs", "export {};")

	mod, err := newResolver(New()).resolve("typed", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "index.mjs")
}

func TestResolveWorkspaceFallback(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "shared/package.json",
		`{"name":"shared","main":"index.js"}`)
	writeFixture(t, root, "shared/index.js", "")

	mod, err := newResolver(New()).resolve("shared", []string{root})
	assert.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(mod.FilePath), "shared/index.js")
}

func TestResolvePackageNotFound(t *testing.T) {
	_, err := newResolver(New()).resolve("ghost", []string{t.TempDir()})
	assert.Equal(t, ErrPackageNotFound, err)
}

func TestResolveEntryPointNotFound(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/hollow/package.json",
		`{"name":"hollow","main":"gone.js"}`)

	_, err := newResolver(New()).resolve("hollow", []string{root})
	assert.Equal(t, ErrEntryPointNotFound, err)
}

func TestResolveFreshness(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/flaky/package.json",
		`{"name":"flaky","main":"index.js"}`)
	entry := writeFixture(t, root, "node_modules/flaky/index.js", "")

	r := newResolver(New())
	_, err := r.resolve("flaky", []string{root})
	assert.NoError(t, err)

	assert.NoError(t, os.Remove(entry))
	_, err = r.resolve("flaky", []string{root})
	assert.Equal(t, ErrEntryPointNotFound, err)
}

func TestResolveImportsField(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "lib")
	writeFixture(t, root, "node_modules/lib/package.json",
		`{"name":"lib","imports":{"#env":{"browser":"./env.browser.js","default":"./env.node.js"}}}`)
	writeFixture(t, root, "node_modules/lib/env.browser.js", "")
	writeFixture(t, root, "node_modules/lib/env.node.js", "")

	target, ok := newResolver(New()).resolveImports(pkgDir, "#env")
	assert.True(t, ok)
	assert.Equal(t, "./env.browser.js", target)
}

func TestReadPackageJSONCaching(t *testing.T) {
	root := t.TempDir()
	p := writeFixture(t, root, "pkg/package.json", `{"name":"one"}`)

	r := newResolver(New())
	b, ok := r.readPackageJSON(p)
	assert.True(t, ok)
	assert.Contains(t, string(b), "one")

	// Same mtime: the cached body is served.
	b, ok = r.readPackageJSON(p)
	assert.True(t, ok)
	assert.Contains(t, string(b), "one")
}
