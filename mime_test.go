package wu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMIMETypeByExtension(t *testing.T) {
	assert.Equal(t, "text/html; charset=utf-8", MIMETypeByExtension(".html"))
	assert.Equal(t, "text/css; charset=utf-8", MIMETypeByExtension(".css"))
	assert.Equal(t, "application/json; charset=utf-8", MIMETypeByExtension(".json"))
	assert.Equal(t, "image/svg+xml", MIMETypeByExtension(".svg"))
	assert.Equal(t, "font/woff2", MIMETypeByExtension(".woff2"))
	assert.Equal(t, "application/wasm", MIMETypeByExtension(".wasm"))
	assert.Equal(t, "application/pdf", MIMETypeByExtension(".pdf"))
}

func TestMIMETypeJavaScriptFamily(t *testing.T) {
	for _, ext := range []string{".js", ".mjs", ".cjs", ".ts", ".mts", ".jsx", ".tsx"} {
		assert.Equal(
			t,
			"application/javascript; charset=utf-8",
			MIMETypeByExtension(ext),
			ext,
		)
	}
}

func TestMIMETypeCaseInsensitive(t *testing.T) {
	assert.Equal(t, "image/png", MIMETypeByExtension(".PNG"))
}

func TestMIMETypeUnknown(t *testing.T) {
	assert.Equal(t, "application/octet-stream", MIMETypeByExtension(".weird"))
	assert.Equal(t, "application/octet-stream", MIMETypeByExtension(""))
}

func TestSniffMIMEType(t *testing.T) {
	assert.Equal(t, "application/octet-stream", sniffMIMEType(nil))
	assert.NotEmpty(t, sniffMIMEType([]byte("plain text body")))
}
