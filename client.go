package wu

import (
	"bytes"
	"sync"
)

// hmrClientScript is the reload client injected into every HTML response.
// It prefers the WebSocket endpoint and falls back to Server-Sent Events
// when the socket cannot be opened.
const hmrClientScript = `(() => {
  const seen = new Set();

  function handle(raw) {
    let event;
    try { event = JSON.parse(raw); } catch { return; }
    switch (event.type) {
      case "connected":
        console.log("[wu] connected");
        break;
      case "css-update":
        refreshCSS(event.app);
        break;
      case "app-update":
        remount(event);
        break;
      case "full-reload":
        location.reload();
        break;
    }
  }

  function refreshCSS(app) {
    document.querySelectorAll("style[data-wu-css]").forEach((style) => {
      const path = style.getAttribute("data-wu-css");
      if (!path.includes(app)) return;
      fetch(path + "?import&t=" + Date.now())
        .then((res) => res.text())
        .then((js) => {
          const match = js.match(/style\.textContent = (".*");/s);
          if (match) style.textContent = JSON.parse(match[1]);
        })
        .catch(() => location.reload());
    });
  }

  function remount(event) {
    const apps = window.__wu_apps || [];
    const app = apps.find((a) => a.name === event.app) || {
      dir: event.dir,
      ext: "js",
    };
    const entry = "/" + app.dir + "/src/main." + app.ext + "?t=" + Date.now();
    import(entry)
      .then((mod) => {
        const mount = window.__wu_mount && window.__wu_mount[event.app];
        if (typeof mount === "function") {
          mount(mod);
        } else if (!seen.has(event.app)) {
          seen.add(event.app);
          location.reload();
        }
      })
      .catch(() => location.reload());
  }

  function sse() {
    const source = new EventSource("/__wu_hmr");
    source.onmessage = (e) => handle(e.data);
  }

  try {
    const proto = location.protocol === "https:" ? "wss://" : "ws://";
    const ws = new WebSocket(proto + location.host + "/__wu_ws");
    let opened = false;
    ws.onopen = () => { opened = true; };
    ws.onmessage = (e) => handle(e.data);
    ws.onerror = () => { if (!opened) sse(); };
    ws.onclose = () => { if (!opened) sse(); };
  } catch {
    sse();
  }
})();
`

// hmrClientTag is the tag injected into HTML responses to pull the client.
const hmrClientTag = `<script type="module" src="/@wu/client.js"></script>`

var (
	hmrClientOnce     sync.Once
	hmrClientMinified []byte
)

// clientJS returns the reload client body, minified once.
func (s *Server) clientJS() []byte {
	hmrClientOnce.Do(func() {
		b, err := s.minifier.minify(
			"application/javascript",
			[]byte(hmrClientScript),
		)
		if err != nil {
			b = []byte(hmrClientScript)
		}

		hmrClientMinified = b
	})

	return hmrClientMinified
}

// injectHTML inserts the snippet into the html immediately before </head>,
// failing that before </body>, failing that at the very top.
func injectHTML(html []byte, snippet string) []byte {
	for _, anchor := range []string{"</head>", "</body>"} {
		if i := bytes.Index(html, []byte(anchor)); i >= 0 {
			out := make([]byte, 0, len(html)+len(snippet)+1)
			out = append(out, html[:i]...)
			out = append(out, snippet...)
			out = append(out, '\n')
			out = append(out, html[i:]...)
			return out
		}
	}

	out := make([]byte, 0, len(html)+len(snippet)+1)
	out = append(out, snippet...)
	out = append(out, '\n')
	out = append(out, html...)
	return out
}
