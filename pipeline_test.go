package wu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteFeatureFlags(t *testing.T) {
	in := []byte(`if (process.env.NODE_ENV === "production") { heavy(); }
const opts = __VUE_OPTIONS_API__;
const dev = __VUE_PROD_DEVTOOLS__;
const det = __VUE_PROD_HYDRATION_MISMATCH_DETAILS__;`)

	out := string(substituteFeatureFlags(in))

	assert.Contains(t, out, `if ("development" === "production")`)
	assert.Contains(t, out, "const opts = true;")
	assert.Contains(t, out, "const dev = false;")
	assert.Contains(t, out, "const det = false;")
}

func TestSubstituteFeatureFlagsWholeTokenOnly(t *testing.T) {
	in := []byte("const a = my__VUE_OPTIONS_API__;\nconst b = shim.process.env.NODE_ENV;")
	out := string(substituteFeatureFlags(in))

	assert.Contains(t, out, "my__VUE_OPTIONS_API__")
	assert.Contains(t, out, "shim.process.env.NODE_ENV")
}

func TestReplaceToken(t *testing.T) {
	assert.Equal(
		t,
		`x = "development";`,
		replaceToken(`x = process.env.NODE_ENV;`, "process.env.NODE_ENV", `"development"`),
	)
}

func TestModuleStub(t *testing.T) {
	out := string(moduleStub(`[wu] module not found: "weird"`))

	assert.True(t, strings.HasPrefix(out, "console.error("))
	assert.Contains(t, out, "export default {};")
	assert.Contains(t, out, `\"weird\"`)
}

func TestInjectHTMLBeforeHead(t *testing.T) {
	out := string(injectHTML(
		[]byte("<html><head><title>t</title></head><body></body></html>"),
		"<script>x</script>",
	))

	assert.Contains(t, out, "<script>x</script>\n</head>")
}

func TestInjectHTMLBeforeBody(t *testing.T) {
	out := string(injectHTML(
		[]byte("<html><body><p>hi</p></body></html>"),
		"<script>x</script>",
	))

	assert.Contains(t, out, "<script>x</script>\n</body>")
}

func TestInjectHTMLAtTop(t *testing.T) {
	out := string(injectHTML([]byte("<p>fragment</p>"), "<script>x</script>"))

	assert.True(t, strings.HasPrefix(out, "<script>x</script>\n"))
	assert.Contains(t, out, "<p>fragment</p>")
}

func TestCSSModuleBody(t *testing.T) {
	out := string(cssModuleBody("h1 { color: red; }", "/mf-header/src/app.css"))

	assert.Contains(t, out, `"h1 { color: red; }"`)
	assert.Contains(t, out, "/mf-header/src/app.css")
	assert.Contains(t, out, "document.createElement(\"style\")")
	assert.Contains(t, out, "document.head.appendChild(style)")
}

func TestAnchorRelativeImports(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/lib/package.json",
		`{"name":"lib","main":"dist/index.js"}`)
	entry := writeFixture(t, root, "node_modules/lib/dist/index.js",
		`import { helper } from "./helper.js";`)
	writeFixture(t, root, "node_modules/lib/dist/helper.js", "export const helper = 1;")

	s := New()
	mod := &ResolvedModule{
		FilePath:   entry,
		PackageDir: root + "/node_modules/lib",
	}

	out := string(s.anchorRelativeImports(
		[]byte(`import { helper } from "./helper.js";`),
		mod,
		"lib",
	))

	assert.Contains(t, out, `"/@modules/lib/dist/helper.js"`)
}

func TestAnchorRelativeImportsMissingTarget(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "node_modules/lib/package.json", `{"name":"lib"}`)
	entry := writeFixture(t, root, "node_modules/lib/index.js", "")

	s := New()
	mod := &ResolvedModule{
		FilePath:   entry,
		PackageDir: root + "/node_modules/lib",
	}

	in := []byte(`import x from "./gone.js";`)
	assert.Equal(t, in, s.anchorRelativeImports(in, mod, "lib"))
}

func TestAppsJSON(t *testing.T) {
	s := New()
	s.swapProject(&ProjectConfig{
		Apps: []AppEntry{
			{Name: "header", Dir: "mf-header", Framework: "react"},
			{Name: "admin", Dir: "mf-admin", Framework: "angular"},
		},
	})

	out := string(s.appsJSON())
	assert.Contains(t, out, `"name":"header"`)
	assert.Contains(t, out, `"color":"#61dafb"`)
	assert.Contains(t, out, `"ext":"jsx"`)
	assert.Contains(t, out, `"ext":"ts"`)
}
