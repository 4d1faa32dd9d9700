package wu

import (
	"bytes"
	"strconv"
	"strings"
)

// transform runs the file at the path, already read into src, through the
// source-rewriting pipeline: TypeScript erasure for TypeScript files,
// bare-import remapping into the /@modules/ namespace, CSS-import tagging,
// and cache-busting version stamps when the reload counter is non-zero.
//
// The returned slice is always freshly owned and contains exactly as many
// newlines as the input, so browser line numbers keep pointing at the
// user's source.
func transform(src []byte, path string, reloads uint64) []byte {
	switch ext := strings.ToLower(pathExt(path)); ext {
	case ".ts", ".mts":
		src = stripTypes(src)
	}

	src = rewriteBareImports(src)
	src = rewriteCSSImports(src)
	if reloads > 0 {
		src = stampRelativeImports(src, reloads)
	}

	return src
}

// pathExt returns the extension of the path including the dot, ignoring any
// query suffix.
func pathExt(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		if j := strings.LastIndexByte(path, '/'); i > j {
			return path[i:]
		}
	}

	return ""
}

// isBareSpecifier reports whether the s is a bare module specifier: it
// starts with an alphabetic character, "@" or "_", is neither relative nor
// absolute nor a URL, and contains no whitespace or bracket characters.
func isBareSpecifier(s string) bool {
	if s == "" {
		return false
	}

	c := s[0]
	if !(c == '@' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}

	if strings.HasPrefix(s, ".") ||
		strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "http:") ||
		strings.HasPrefix(s, "https:") ||
		strings.HasPrefix(s, "data:") {
		return false
	}

	return !strings.ContainsAny(s, " \t\r\n{}[]()")
}

// rewriteBareImports remaps every bare specifier in an import position to
// the virtual /@modules/ namespace.
func rewriteBareImports(src []byte) []byte {
	return rewriteImportSpecifiers(src, func(spec string) string {
		if isBareSpecifier(spec) {
			return "/@modules/" + spec
		}

		return spec
	})
}

// rewriteCSSImports tags every imported ".css" specifier with "?import" so
// the router serves it as a JavaScript module instead of a raw stylesheet.
// The rewrite is idempotent: a specifier already carrying the tag no longer
// ends in ".css" and passes through untouched.
func rewriteCSSImports(src []byte) []byte {
	return rewriteImportSpecifiers(src, func(spec string) string {
		if strings.HasSuffix(spec, ".css") {
			return spec + "?import"
		}

		return spec
	})
}

// stampRelativeImports appends "?t=<reloads>" to every relative specifier
// that carries no query yet, busting the browser's ES-module cache after a
// hot reload.
func stampRelativeImports(src []byte, reloads uint64) []byte {
	t := "?t=" + strconv.FormatUint(reloads, 10)
	return rewriteImportSpecifiers(src, func(spec string) string {
		if (strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")) &&
			!strings.Contains(spec, "?") {
			return spec + t
		}

		return spec
	})
}

// rewriteImportSpecifiers scans the src for string-literal specifiers in an
// import position — after the keywords "from" and "import" at a word
// boundary, or inside a dynamic "import(" — and replaces each with the
// result of the rw. String-literal bodies and comments elsewhere are passed
// through verbatim.
func rewriteImportSpecifiers(src []byte, rw func(string) string) []byte {
	out := bytes.Buffer{}
	out.Grow(len(src) + 64)

	last := 0
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

			word := string(src[i:j])
			if word != "from" && word != "import" {
				i = j
				continue
			}

			k := j
			for k < n && (src[k] == ' ' || src[k] == '\t') {
				k++
			}

			if word == "import" && k < n && src[k] == '(' {
				k++
				for k < n && (src[k] == ' ' || src[k] == '\t') {
					k++
				}
			}

			if k >= n || (src[k] != '\'' && src[k] != '"') {
				i = j
				continue
			}

			m := skipString(src, k)
			if m-1 <= k {
				i = j
				continue
			}

			spec := string(src[k+1 : m-1])
			if ns := rw(spec); ns != spec {
				out.Write(src[last : k+1])
				out.WriteString(ns)
				last = m - 1
			}

			i = m
		default:
			i++
		}
	}

	out.Write(src[last:])

	return out.Bytes()
}

// skipString advances past the string literal opening at the i and returns
// the index just after its closing quote.
func skipString(src []byte, i int) int {
	q := src[i]
	i++
	for i < len(src) {
		if src[i] == '\\' {
			i += 2
			continue
		}

		if src[i] == q || src[i] == '\n' {
			return i + 1
		}

		i++
	}

	return i
}

// skipTemplate advances past the template literal opening at the i,
// stepping over "${...}" interpolations, and returns the index just after
// the closing backtick.
func skipTemplate(src []byte, i int) int {
	i++
	for i < len(src) {
		switch {
		case src[i] == '\\':
			i += 2
		case src[i] == '`':
			return i + 1
		case src[i] == '$' && i+1 < len(src) && src[i+1] == '{':
			i += 2
			depth := 1
			for i < len(src) && depth > 0 {
				switch src[i] {
				case '{':
					depth++
				case '}':
					depth--
				case '\'', '"':
					i = skipString(src, i) - 1
				}
				i++
			}
		default:
			i++
		}
	}

	return i
}

// isIdentByte reports whether the c may appear in a JavaScript identifier.
func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// typeStrippableLinePrefixes are the trimmed-line prefixes whose whole line
// is erased (replaced by a blank line) during TypeScript erasure.
var typeStrippableLinePrefixes = []string{
	"interface ",
	"export interface ",
	"import type ",
	"export type {",
	"export type *",
	"declare ",
	"export declare ",
	"namespace ",
	"export namespace ",
	"abstract class ",
}

// accessModifiers are the keywords stripped at word boundaries within kept
// lines during TypeScript erasure.
var accessModifiers = map[string]bool{
	"public":    true,
	"private":   true,
	"protected": true,
	"readonly":  true,
	"override":  true,
	"abstract":  true,
}

// stripTypes erases TypeScript-only syntax from the src, producing plain
// JavaScript with the same number of lines.
//
// Whole lines that declare types (interfaces, type aliases, declares,
// namespaces) become blank lines; when such a line opens braces, the
// following lines are blanked too until the brace depth returns to zero.
// Within kept lines, access modifiers, ": T" annotations, "as"/"satisfies"
// casts and "implements" clauses are removed in place while string literals
// and comments pass through verbatim.
func stripTypes(src []byte) []byte {
	lines := bytes.Split(src, []byte{'\n'})
	out := bytes.Buffer{}
	out.Grow(len(src))

	skipDepth := 0
	for li, line := range lines {
		if li > 0 {
			out.WriteByte('\n')
		}

		if skipDepth > 0 {
			skipDepth += braceDelta(line)
			if skipDepth < 0 {
				skipDepth = 0
			}
			continue
		}

		t := strings.TrimSpace(string(line))
		if isTypeStrippableLine(t) {
			if d := braceDelta(line); d > 0 {
				skipDepth = d
			}
			continue
		}

		out.Write(stripInlineTypes(line))
	}

	return out.Bytes()
}

// isTypeStrippableLine reports whether the trimmed line t is erased
// entirely during TypeScript erasure.
func isTypeStrippableLine(t string) bool {
	for _, p := range typeStrippableLinePrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}

	if t == "};" {
		return true
	}

	if strings.HasPrefix(t, "//") && !strings.HasPrefix(t, "///") {
		return true
	}

	if strings.HasPrefix(t, "/*") && strings.HasSuffix(t, "*/") {
		return true
	}

	return isTypeAliasLine(t)
}

// isTypeAliasLine reports whether the trimmed line t declares a type alias.
// Distinguishing "type Name = ..." from an object property "type:" requires
// looking past any generic parameter list for the "=".
func isTypeAliasLine(t string) bool {
	t = strings.TrimPrefix(t, "export ")
	if !strings.HasPrefix(t, "type ") {
		return false
	}

	r := strings.TrimLeft(t[len("type "):], " \t")
	i := 0
	for i < len(r) && isIdentByte(r[i]) {
		i++
	}

	if i == 0 {
		return false
	}

	r = strings.TrimLeft(r[i:], " \t")
	if strings.HasPrefix(r, "<") {
		depth := 0
		j := 0
		for j < len(r) {
			switch r[j] {
			case '<':
				depth++
			case '>':
				depth--
			}
			j++
			if depth == 0 {
				break
			}
		}

		r = strings.TrimLeft(r[j:], " \t")
	}

	return strings.HasPrefix(r, "=")
}

// braceDelta returns the net curly-brace depth change of the line, ignoring
// braces inside string literals and comments.
func braceDelta(line []byte) int {
	d := 0
	i, n := 0, len(line)
	for i < n {
		switch c := line[i]; {
		case c == '/' && i+1 < n && line[i+1] == '/':
			return d
		case c == '/' && i+1 < n && line[i+1] == '*':
			i += 2
			for i+1 < n && !(line[i] == '*' && line[i+1] == '/') {
				i++
			}
			i += 2
		case c == '\'' || c == '"' || c == '`':
			i = skipString(line, i)
		case c == '{':
			d++
			i++
		case c == '}':
			d--
			i++
		default:
			i++
		}
	}

	return d
}

// stripInlineTypes removes TypeScript-only tokens from a kept line: access
// modifiers, "implements" clauses, "as"/"satisfies" casts and ": T"
// annotations in parameter, variable and return positions.
func stripInlineTypes(line []byte) []byte {
	out := bytes.Buffer{}
	out.Grow(len(line))

	t := strings.TrimLeft(string(line), " \t")
	t = strings.TrimPrefix(t, "export ")
	isDecl := strings.HasPrefix(t, "let ") ||
		strings.HasPrefix(t, "const ") ||
		strings.HasPrefix(t, "var ")

	parenDepth := 0
	curlyDepth := 0
	modifierSeen := false
	seenAssign := false
	i, n := 0, len(line)
	for i < n {
		c := line[i]
		switch {
		case c == '/' && i+1 < n && line[i+1] == '/':
			out.Write(line[i:])
			i = n
		case c == '/' && i+1 < n && line[i+1] == '*':
			j := i + 2
			for j+1 < n && !(line[j] == '*' && line[j+1] == '/') {
				j++
			}
			j += 2
			if j > n {
				j = n
			}
			out.Write(line[i:j])
			i = j
		case c == '\'' || c == '"' || c == '`':
			j := skipString(line, i)
			out.Write(line[i:j])
			i = j
		case c == '(':
			parenDepth++
			out.WriteByte(c)
			i++
		case c == ')':
			parenDepth--
			out.WriteByte(c)
			i++
		case c == '{':
			curlyDepth++
			out.WriteByte(c)
			i++
		case c == '}':
			curlyDepth--
			out.WriteByte(c)
			i++
		case c == '=':
			if parenDepth == 0 && curlyDepth == 0 {
				seenAssign = true
			}
			out.WriteByte(c)
			i++
		case c == ':':
			// Annotations live in parameter lists, ahead of a
			// declaration's "=", or after a modifier or a return
			// ")" — never inside an object literal body.
			prev := lastSignificantByte(out.Bytes())
			eligible := curlyDepth == 0 &&
				(parenDepth > 0 ||
					((isDecl || modifierSeen) && !seenAssign) ||
					prev == ')')
			if eligible &&
				(prev == ')' || prev == '?' || prev == '!' ||
					isIdentByte(prev)) {
				if prev == '?' || prev == '!' {
					truncateLastSignificant(&out)
				}

				// Keep the whitespace ahead of the terminator so
				// "n: T = 1" becomes "n = 1".
				end := skipTypeExpr(line, i+1)
				for end > i+1 && (line[end-1] == ' ' || line[end-1] == '\t') {
					end--
				}

				i = end
				continue
			}

			out.WriteByte(c)
			i++
		case isIdentByte(c):
			j := i
			for j < n && isIdentByte(line[j]) {
				j++
			}

			word := string(line[i:j])
			prev := lastSignificantByte(out.Bytes())
			switch {
			case accessModifiers[word] && !isIdentByte(prev):
				modifierSeen = true
				for j < n && (line[j] == ' ' || line[j] == '\t') {
					j++
				}
				i = j
			case word == "implements" && !isIdentByte(prev):
				for j < n && line[j] != '{' {
					j++
				}
				i = j
			case (word == "as" || word == "satisfies") &&
				(prev == ')' || prev == ']' || isIdentByte(prev)):
				trimTrailingSpace(&out)
				i = skipTypeExpr(line, j)
			default:
				out.WriteString(word)
				i = j
			}
		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.Bytes()
}

// skipTypeExpr advances past a type expression starting at the i, tracking
// angle-bracket and parenthesis depth, and returns the index of the
// terminator: ",", ")", ";", "=", "{" or "}" at depth zero, or the end of
// the line.
func skipTypeExpr(line []byte, i int) int {
	angle, paren := 0, 0
	n := len(line)
	for i < n {
		switch c := line[i]; c {
		case '<':
			angle++
		case '>':
			if angle > 0 {
				angle--
			}
		case '(', '[':
			paren++
		case ')':
			if paren == 0 {
				return i
			}
			paren--
		case ']':
			if paren > 0 {
				paren--
			}
		case '\'', '"', '`':
			i = skipString(line, i) - 1
		case ',', ';', '=', '{', '}':
			if angle == 0 && paren == 0 {
				return i
			}
		}
		i++
	}

	return i
}

// lastSignificantByte returns the last byte of the b that is not a space or
// a tab, or zero when none exists.
func lastSignificantByte(b []byte) byte {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != ' ' && b[i] != '\t' {
			return b[i]
		}
	}

	return 0
}

// truncateLastSignificant removes the last non-space byte of the buf.
func truncateLastSignificant(buf *bytes.Buffer) {
	b := buf.Bytes()
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != ' ' && b[i] != '\t' {
			tail := append([]byte{}, b[i+1:]...)
			buf.Truncate(i)
			buf.Write(tail)
			return
		}
	}
}

// trimTrailingSpace removes trailing spaces and tabs from the buf.
func trimTrailingSpace(buf *bytes.Buffer) {
	b := buf.Bytes()
	i := len(b)
	for i > 0 && (b[i-1] == ' ' || b[i-1] == '\t') {
		i--
	}
	buf.Truncate(i)
}
