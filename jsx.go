package wu

import (
	"bytes"
	"strings"
)

// jsxPreambles maps a framework tag to the preamble aliasing __jsx and
// __Fragment to that framework's factory functions. The preamble's bare
// imports are rewritten into the /@modules/ namespace afterwards.
var jsxPreambles = map[string]string{
	"react":  `import { createElement as __jsx, Fragment as __Fragment } from "react";`,
	"preact": `import { h as __jsx, Fragment as __Fragment } from "preact";`,
}

// jsxKeywords are the keywords after which a "<" starts a JSX element.
var jsxKeywords = map[string]bool{
	"return":  true,
	"case":    true,
	"default": true,
	"typeof":  true,
	"void":    true,
	"delete":  true,
	"throw":   true,
	"new":     true,
	"in":      true,
	"of":      true,
	"else":    true,
	"yield":   true,
	"await":   true,
	"export":  true,
}

// compileJSXNative compiles JSX or TSX source into plain JavaScript calling
// the framework's element factory. TSX sources go through TypeScript
// erasure first; the translated body is prefixed with the framework
// preamble on the same first line so the line count never changes.
func compileJSXNative(src []byte, framework string, isTSX bool) []byte {
	if isTSX {
		src = stripTypes(src)
	}

	body := translateJSX(src)

	preamble, ok := jsxPreambles[framework]
	if !ok {
		preamble = jsxPreambles["react"]
	}

	out := make([]byte, 0, len(preamble)+1+len(body))
	out = append(out, preamble...)
	out = append(out, ' ')
	out = append(out, body...)

	return out
}

// translateJSX rewrites every JSX element in the src into a
// __jsx(tag, props, ...children) call. Input free of "<" in expression
// position comes back byte-identical. The output carries exactly as many
// newlines as the input.
func translateJSX(src []byte) []byte {
	t := &jsxTranslator{src: src}
	t.out.Grow(len(src) + 64)
	t.translate(0, len(src))
	return t.out.Bytes()
}

// jsxTranslator walks JavaScript source and rewrites JSX regions in place.
type jsxTranslator struct {
	src []byte
	out bytes.Buffer

	prevByte  byte
	prevByte2 byte
	prevWord  string
}

// emit writes the b to the output and records it as significant context.
func (t *jsxTranslator) emit(b byte) {
	t.out.WriteByte(b)
	if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
		t.prevByte2 = t.prevByte
		t.prevByte = b
		t.prevWord = ""
	}
}

// translate copies src[i:n] to the output, rewriting JSX regions.
func (t *jsxTranslator) translate(i, n int) {
	for i < n {
		c := t.src[i]
		switch {
		case c == '/' && i+1 < n && t.src[i+1] == '/':
			j := i
			for j < n && t.src[j] != '\n' {
				j++
			}
			t.out.Write(t.src[i:j])
			i = j
		case c == '/' && i+1 < n && t.src[i+1] == '*':
			j := i + 2
			for j+1 < n && !(t.src[j] == '*' && t.src[j+1] == '/') {
				j++
			}
			j += 2
			if j > n {
				j = n
			}
			t.out.Write(t.src[i:j])
			i = j
		case c == '\'' || c == '"':
			j := skipString(t.src[:n], i)
			t.out.Write(t.src[i:j])
			t.prevByte2, t.prevByte, t.prevWord = t.prevByte, c, ""
			i = j
		case c == '`':
			i = t.copyTemplate(i, n)
		case isIdentByte(c):
			j := i
			for j < n && isIdentByte(t.src[j]) {
				j++
			}
			t.out.Write(t.src[i:j])
			t.prevWord = string(t.src[i:j])
			t.prevByte2, t.prevByte = t.prevByte, t.src[j-1]
			i = j
		case c == '<' && t.startsJSX(i, n):
			i = t.parseElement(i, n)
		default:
			t.emit(c)
			i++
		}
	}
}

// copyTemplate copies a template literal verbatim, recursing into ${...}
// interpolations so JSX inside them is still recognized.
func (t *jsxTranslator) copyTemplate(i, n int) int {
	t.out.WriteByte('`')
	i++
	for i < n {
		switch {
		case t.src[i] == '\\':
			t.out.WriteByte(t.src[i])
			if i+1 < n {
				t.out.WriteByte(t.src[i+1])
			}
			i += 2
		case t.src[i] == '`':
			t.out.WriteByte('`')
			t.prevByte2, t.prevByte, t.prevWord = t.prevByte, '`', ""
			return i + 1
		case t.src[i] == '$' && i+1 < n && t.src[i+1] == '{':
			t.out.WriteString("${")
			j := i + 2
			depth := 1
			for j < n && depth > 0 {
				switch t.src[j] {
				case '{':
					depth++
				case '}':
					depth--
				case '\'', '"', '`':
					j = skipString(t.src[:n], j) - 1
				}
				j++
			}

			end := j - 1
			if end < i+2 {
				end = i + 2
			}

			sub := &jsxTranslator{src: t.src, prevByte: '{'}
			sub.translate(i+2, end)
			t.out.Write(sub.out.Bytes())
			t.out.WriteByte('}')
			i = j
		default:
			t.out.WriteByte(t.src[i])
			i++
		}
	}

	return i
}

// startsJSX reports whether the "<" at the i opens a JSX element rather
// than a comparison or a generic parameter list.
func (t *jsxTranslator) startsJSX(i, n int) bool {
	if t.prevWord != "" {
		if !jsxKeywords[t.prevWord] {
			return false
		}
	} else {
		switch t.prevByte {
		case 0, '(', ',', '=', '>', '{', '}', '[', ';', '?', ':':
		case '&':
			if t.prevByte2 != '&' {
				return false
			}
		case '|':
			if t.prevByte2 != '|' {
				return false
			}
		default:
			return false
		}
	}

	// Reject TSX generic-parameter patterns: <T,>, <T = ...>,
	// <T extends ...>. Ambiguous arrow generics stay JSX.
	j := i + 1
	for j < n && (t.src[j] == ' ' || t.src[j] == '\t') {
		j++
	}

	k := j
	for k < n && isIdentByte(t.src[k]) {
		k++
	}

	if k > j {
		m := k
		for m < n && (t.src[m] == ' ' || t.src[m] == '\t') {
			m++
		}

		if m < n {
			if t.src[m] == ',' {
				return false
			}

			if t.src[m] == '=' && !(m+1 < n && t.src[m+1] == '>') {
				return false
			}

			if strings.HasPrefix(string(t.src[m:min(m+8, n)]), "extends ") {
				return false
			}
		}
	}

	return true
}

// min returns the smaller of the a and the b.
func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

// isJSXTagByte reports whether the c may appear in a JSX tag name.
func isJSXTagByte(c byte) bool {
	return isIdentByte(c) || c == '.' || c == '-'
}

// parseElement translates the JSX element opening at the i and returns the
// index just past it. Malformed JSX produces a best-effort emission plus a
// closing parenthesis; the browser surfaces the syntactic error.
func (t *jsxTranslator) parseElement(i, n int) int {
	i++ // consume '<'

	tagStart := i
	for i < n && isJSXTagByte(t.src[i]) {
		i++
	}

	tag := string(t.src[tagStart:i])

	t.out.WriteString("__jsx(")
	switch {
	case tag == "":
		t.out.WriteString("__Fragment")
	case tag[0] >= 'a' && tag[0] <= 'z', strings.Contains(tag, "-"):
		t.out.WriteByte('"')
		t.out.WriteString(tag)
		t.out.WriteByte('"')
	default:
		t.out.WriteString(tag)
	}

	// Props.

	props := []string{}
	newlines := 0
	selfClosing := false

	for i < n {
		c := t.src[i]
		switch {
		case c == '\n':
			newlines++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '/' && i+1 < n && t.src[i+1] == '>':
			selfClosing = true
			i += 2
		case c == '>':
			i++
		case c == '{':
			expr, j := t.balancedRegion(i, n)
			i = j
			if strings.HasPrefix(strings.TrimSpace(expr), "...") {
				props = append(props, expr)
			} else {
				for nl := strings.Count(expr, "\n"); nl > 0; nl-- {
					newlines++
				}
			}
			continue
		default:
			name, value, j := t.parseProp(i, n)
			i = j
			if name != "" {
				props = append(props, name+": "+value)
			}
			continue
		}

		if c == '>' || selfClosing {
			break
		}
	}

	if len(props) == 0 {
		t.out.WriteString(", null")
	} else {
		t.out.WriteString(", {")
		t.out.WriteString(strings.Join(props, ", "))
		t.out.WriteByte('}')
	}

	for ; newlines > 0; newlines-- {
		t.out.WriteByte('\n')
	}

	if selfClosing || i >= n {
		t.out.WriteByte(')')
		t.prevByte2, t.prevByte, t.prevWord = t.prevByte, ')', ""
		return i
	}

	// Children.

	text := bytes.Buffer{}
	flushText := func() {
		s := text.String()
		text.Reset()
		if strings.TrimSpace(s) == "" {
			return
		}

		t.out.WriteString(", \"")
		t.out.WriteString(escapeJSXText(strings.TrimSpace(s)))
		t.out.WriteByte('"')
	}

	for i < n {
		c := t.src[i]
		switch {
		case c == '<' && i+1 < n && t.src[i+1] == '/':
			flushText()
			for i < n && t.src[i] != '>' {
				if t.src[i] == '\n' {
					t.out.WriteByte('\n')
				}
				i++
			}
			if i < n {
				i++
			}
			t.out.WriteByte(')')
			t.prevByte2, t.prevByte, t.prevWord = t.prevByte, ')', ""
			return i
		case c == '<':
			flushText()
			t.out.WriteString(", ")
			i = t.parseElement(i, n)
		case c == '{':
			flushText()
			expr, j := t.balancedRegion(i, n)
			i = j
			e := strings.TrimSpace(expr)
			if e != "" && !isJSXComment(e) {
				t.out.WriteString(", ")
				t.out.WriteString(expr)
			} else {
				// Keep the newlines of a dropped comment child.
				for nl := strings.Count(expr, "\n"); nl > 0; nl-- {
					t.out.WriteByte('\n')
				}
			}
		case c == '\n':
			flushText()
			t.out.WriteByte('\n')
			i++
		default:
			text.WriteByte(c)
			i++
		}
	}

	// Missing closing tag.
	flushText()
	t.out.WriteByte(')')
	t.prevByte2, t.prevByte, t.prevWord = t.prevByte, ')', ""

	return i
}

// parseProp parses a single JSX prop at the i: name, name="value" or
// name={expr}. Shorthand props become true.
func (t *jsxTranslator) parseProp(i, n int) (name, value string, j int) {
	j = i
	for j < n && (isIdentByte(t.src[j]) || t.src[j] == '-' || t.src[j] == ':') {
		j++
	}

	name = string(t.src[i:j])
	if name == "" {
		// Unparseable byte; step over it so the scan advances.
		return "", "", j + 1
	}

	if strings.ContainsAny(name, "-:") {
		name = `"` + name + `"`
	}

	k := j
	for k < n && (t.src[k] == ' ' || t.src[k] == '\t') {
		k++
	}

	if k >= n || t.src[k] != '=' {
		return name, "true", j
	}

	k++
	for k < n && (t.src[k] == ' ' || t.src[k] == '\t') {
		k++
	}

	if k < n && (t.src[k] == '"' || t.src[k] == '\'') {
		m := skipString(t.src[:n], k)
		return name, string(t.src[k:m]), m
	}

	if k < n && t.src[k] == '{' {
		expr, m := t.balancedRegion(k, n)
		if strings.TrimSpace(expr) == "" {
			return name, "undefined", m
		}

		return name, expr, m
	}

	return name, "true", k
}

// balancedRegion consumes the braced expression opening at the i,
// translating any JSX inside it, and returns the inner translated text —
// newlines intact, since every emission site sits inside an argument list
// or object literal where they are legal — and the index just past the
// closing brace.
func (t *jsxTranslator) balancedRegion(i, n int) (string, int) {
	j := i + 1
	depth := 1
	for j < n && depth > 0 {
		switch t.src[j] {
		case '{':
			depth++
		case '}':
			depth--
		case '\'', '"', '`':
			j = skipString(t.src[:n], j) - 1
		}
		j++
	}

	end := j
	if depth == 0 {
		end = j - 1
	}

	sub := &jsxTranslator{src: t.src, prevByte: '{'}
	sub.translate(i+1, end)

	return sub.out.String(), j
}

// isJSXComment reports whether the trimmed child expression e is only a
// comment.
func isJSXComment(e string) bool {
	return strings.HasPrefix(e, "/*") && strings.HasSuffix(e, "*/")
}

// escapeJSXText escapes a JSX text run for emission as a JavaScript string
// literal.
func escapeJSXText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}
