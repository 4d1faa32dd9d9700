package wu

import (
	"strings"

	"github.com/aofei/mimesniffer"
)

// mimeTypes maps a lowercased filename extension (with the leading dot) to
// the content type the server responds with.
//
// The whole JavaScript family — including TypeScript and the JSX/TSX
// dialects — maps to "application/javascript" because everything under it
// is served to the browser as a transformed ES module.
var mimeTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".cjs":   "application/javascript; charset=utf-8",
	".ts":    "application/javascript; charset=utf-8",
	".mts":   "application/javascript; charset=utf-8",
	".jsx":   "application/javascript; charset=utf-8",
	".tsx":   "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".map":   "application/json; charset=utf-8",
	".xml":   "application/xml; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".avif":  "image/avif",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".ogg":   "audio/ogg",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".wasm":  "application/wasm",
	".pdf":   "application/pdf",
}

// MIMETypeByExtension returns the content type for the ext, which must
// include the leading dot. It returns "application/octet-stream" for any
// extension it does not know.
func MIMETypeByExtension(ext string) string {
	if mt, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mt
	}

	return "application/octet-stream"
}

// sniffMIMEType returns the content type for a file body whose name carries
// no extension at all, falling back to sniffing the leading bytes.
func sniffMIMEType(b []byte) string {
	if len(b) == 0 {
		return "application/octet-stream"
	}

	if len(b) > 512 {
		b = b[:512]
	}

	return mimesniffer.Sniff(b)
}
