package wu

import (
	"bytes"
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/tdewolff/minify/v2/xml"
)

// minifier is used to minify contents by the MIME types.
type minifier struct {
	s *Server
	m *minify.M
}

// newMinifier returns a new instance of the `minifier` with the s.
func newMinifier(s *Server) *minifier {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("application/json", json.Minify)
	m.AddFuncRegexp(regexp.MustCompile("[/+]xml$"), xml.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)

	return &minifier{
		s: s,
		m: m,
	}
}

// minify minifies the b by the mimeType. The mimeType must not carry
// parameters.
func (m *minifier) minify(mimeType string, b []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := m.m.Minify(mimeType, &buf, bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
