package wu

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// isCommonJS reports whether the src is a CommonJS module: no top-level
// import/export statement, and at least one require call, module.exports
// assignment or exports.NAME assignment.
func isCommonJS(src []byte) bool {
	hasCJSMarker := false
	for _, line := range bytes.Split(src, []byte{'\n'}) {
		t := strings.TrimSpace(string(line))
		if strings.HasPrefix(t, "import ") ||
			strings.HasPrefix(t, "import\"") ||
			strings.HasPrefix(t, "import'") ||
			strings.HasPrefix(t, "export ") ||
			strings.HasPrefix(t, "export{") ||
			strings.HasPrefix(t, "export*") {
			return false
		}

		if !hasCJSMarker &&
			(strings.Contains(t, "require(") ||
				strings.Contains(t, "module.exports") ||
				strings.Contains(t, "exports.")) {
			hasCJSMarker = true
		}
	}

	return hasCJSMarker
}

// collectRequires returns every string argument of a require("...") call
// in the src, in order of appearance, skipping string literals and
// comments elsewhere.
func collectRequires(src []byte) []string {
	var specs []string

	i, n := 0, len(src)
	for i < n {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && src[i+1] == '*':
			i += 2
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
		case c == '\'' || c == '"':
			i = skipString(src, i)
		case c == '`':
			i = skipTemplate(src, i)
		case isIdentByte(c):
			j := i
			for j < n && isIdentByte(src[j]) {
				j++
			}

			if string(src[i:j]) != "require" {
				i = j
				continue
			}

			k := j
			for k < n && (src[k] == ' ' || src[k] == '\t') {
				k++
			}

			if k >= n || src[k] != '(' {
				i = j
				continue
			}

			k++
			for k < n && (src[k] == ' ' || src[k] == '\t') {
				k++
			}

			if k >= n || (src[k] != '\'' && src[k] != '"') {
				i = j
				continue
			}

			m := skipString(src, k)
			if m-1 > k {
				specs = append(specs, string(src[k+1:m-1]))
			}

			i = m
		default:
			i++
		}
	}

	return specs
}

// collectNamedExports returns the deduplicated NAME list of every
// "exports.NAME = ..." assignment in the src, skipping names starting
// with an underscore (and therefore __esModule).
func collectNamedExports(src []byte) []string {
	var names []string
	seen := map[string]bool{}

	s := src
	for {
		i := bytes.Index(s, []byte("exports."))
		if i < 0 {
			break
		}

		j := i + len("exports.")
		k := j
		for k < len(s) && isIdentByte(s[k]) {
			k++
		}

		name := string(s[j:k])
		m := k
		for m < len(s) && (s[m] == ' ' || s[m] == '\t') {
			m++
		}

		isAssign := m < len(s) && s[m] == '=' &&
			!(m+1 < len(s) && s[m+1] == '=')
		if isAssign && name != "" && name[0] != '_' && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}

		s = s[k:]
	}

	return names
}

// wrapCommonJS wraps raw CommonJS source into an ES module the browser can
// import: bare requires become static /@modules/ imports fed through a
// synchronous require shim, the body runs against module/exports/process
// shims, and the collected assignments are re-exported by name.
//
// When the body requires a relative sibling, the variant whose path
// mentions "development" (or the first one) is resolved and inlined in
// place of the whole body — collapsing the usual NODE_ENV dispatch file
// into the development build without evaluating it.
func (s *Server) wrapCommonJS(src []byte, fileDir string) []byte {
	requires := collectRequires(src)

	var relative []string
	for _, spec := range requires {
		if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
			relative = append(relative, spec)
		}
	}

	if len(relative) > 0 {
		pick := relative[0]
		for _, spec := range relative {
			if strings.Contains(spec, "development") {
				pick = spec
				break
			}
		}

		if p := probeFile(fileDir, strings.TrimPrefix(pick, "./")); p != "" {
			if b, err := os.ReadFile(p); err == nil {
				src = b
				requires = collectRequires(src)
			}
		}
	}

	var deps []string
	seen := map[string]bool{}
	for _, spec := range requires {
		if isBareSpecifier(spec) && !seen[spec] {
			seen[spec] = true
			deps = append(deps, spec)
		}
	}

	out := bytes.Buffer{}
	out.Grow(len(src) + 1024)

	for i, dep := range deps {
		fmt.Fprintf(&out, "import __dep%d from '/@modules/%s';\n", i, dep)
	}

	out.WriteString("var process = { env: { NODE_ENV: \"development\" } };\n")
	out.WriteString("var global = globalThis;\n")
	out.WriteString("var module = { exports: {} };\n")
	out.WriteString("var exports = module.exports;\n")
	out.WriteString("function require(id) {\n")
	for i, dep := range deps {
		fmt.Fprintf(&out, "  if (id === '%s') return __dep%d;\n", dep, i)
	}
	out.WriteString("  console.warn('[wu] unresolved require: ' + id);\n")
	out.WriteString("  return {};\n")
	out.WriteString("}\n")
	out.Write(src)
	if len(src) > 0 && src[len(src)-1] != '\n' {
		out.WriteByte('\n')
	}
	out.WriteString("export default module.exports;\n")

	if names := collectNamedExports(src); len(names) > 0 {
		out.WriteString("var __e = module.exports;\n")
		out.WriteString("export var ")
		for i, name := range names {
			if i > 0 {
				out.WriteString(", ")
			}
			fmt.Fprintf(&out, "%s = __e.%s", name, name)
		}
		out.WriteString(";\n")
	}

	return out.Bytes()
}
