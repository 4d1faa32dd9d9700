package wu

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// broker errors
var (
	// ErrCompilerNotFound is returned when no subprocess host exists to
	// run a framework compiler.
	ErrCompilerNotFound = errors.New("wu: compiler not found")

	// ErrCompileFailed is returned when a compiler exits non-zero or the
	// daemon answers with an ERR response.
	ErrCompileFailed = errors.New("wu: compile failed")

	// ErrPathTooLong is returned when a source path does not fit in one
	// daemon framing line.
	ErrPathTooLong = errors.New("wu: path too long")
)

// maxDaemonPath bounds the filename field of a daemon request line.
const maxDaemonPath = 4096

// compilerScriptName is the bundled daemon script, written under the cache
// root on first compile.
const compilerScriptName = "wu-compiler.cjs"

// compileKind classifies what the broker must do for a file: "" means no
// framework compilation (the caller serves through the plain transformer),
// "native" means the in-process JSX path, anything else names a daemon
// compile kind.
func compileKind(ext, framework string) string {
	switch ext {
	case ".jsx", ".tsx":
		switch framework {
		case "react", "preact":
			return "native"
		case "solid":
			return "solid"
		case "qwik":
			return "qwik"
		}

		return "native"
	case ".svelte":
		return "svelte"
	case ".vue":
		return "vue"
	case ".ts", ".mts":
		if framework == "angular" {
			return "angular"
		}
	}

	return ""
}

// needsCompile reports whether the ext requires framework compilation for
// the framework.
func needsCompile(ext, framework string) bool {
	return compileKind(ext, framework) != ""
}

// broker drives the three-tier compile strategy: the native in-process
// transformers, a long-running compiler daemon, and a per-compile fallback
// when the daemon cannot be spawned.
type broker struct {
	s *Server

	mutex  sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	scriptOnce  sync.Once
	scriptPath  string
	scriptError error
}

// newBroker returns a new instance of the `broker` with the s.
func newBroker(s *Server) *broker {
	return &broker{s: s}
}

// compile compiles the src of the file at the path, belonging to the app
// rooted at the appDir and driven by the framework. Bare specifiers in the
// compiled output are always remapped into the /@modules/ namespace, since
// framework compilers emit imports the browser cannot resolve.
func (b *broker) compile(src []byte, path, appDir, framework string) ([]byte, error) {
	ext := strings.ToLower(pathExt(path))
	kind := compileKind(ext, framework)

	var (
		out []byte
		err error
	)

	switch kind {
	case "":
		out = transform(src, path, 0)
		return out, nil
	case "native":
		out = compileJSXNative(src, framework, ext == ".tsx")
	default:
		out, err = b.compileViaDaemon(src, path, kind, ext, framework)
		if errors.Is(err, ErrCompilerNotFound) {
			out, err = b.compileOneShot(src, path, kind, ext, framework)
		}

		if err != nil {
			return nil, err
		}
	}

	out = rewriteBareImports(out)
	out = rewriteCSSImports(out)

	return out, nil
}

// ensureScript writes the bundled daemon script under the cache root.
func (b *broker) ensureScript() (string, error) {
	b.scriptOnce.Do(func() {
		p := filepath.Join(b.s.CacheRoot, compilerScriptName)
		if err := os.MkdirAll(b.s.CacheRoot, 0o755); err != nil {
			b.scriptError = err
			return
		}

		if err := os.WriteFile(p, []byte(compilerScript), 0o644); err != nil {
			b.scriptError = err
			return
		}

		b.scriptPath = p
	})

	return b.scriptPath, b.scriptError
}

// compileViaDaemon sends one strictly-serial request to the long-running
// compiler daemon, spawning it lazily. Any unrecoverable I/O error tears
// the daemon down so the next request respawns it.
func (b *broker) compileViaDaemon(src []byte, path, kind, ext, framework string) ([]byte, error) {
	if len(path) > maxDaemonPath {
		return nil, ErrPathTooLong
	}

	script, err := b.ensureScript()
	if err != nil {
		return nil, ErrCompilerNotFound
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.cmd == nil {
		cmd := exec.Command("node", script)
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, ErrCompilerNotFound
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, ErrCompilerNotFound
		}

		if err := cmd.Start(); err != nil {
			return nil, ErrCompilerNotFound
		}

		b.cmd = cmd
		b.stdin = stdin
		b.stdout = bufio.NewReader(stdout)
	}

	header := fmt.Sprintf(
		"COMPILE\t%s\t%s\t%s\t%s\t%d\n",
		kind,
		path,
		strings.TrimPrefix(ext, "."),
		framework,
		len(src),
	)

	if _, err := io.WriteString(b.stdin, header); err != nil {
		b.teardownLocked()
		return nil, ErrCompileFailed
	}

	if _, err := b.stdin.Write(src); err != nil {
		b.teardownLocked()
		return nil, ErrCompileFailed
	}

	line, err := b.stdout.ReadString('\n')
	if err != nil {
		b.teardownLocked()
		return nil, ErrCompileFailed
	}

	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, "OK\t"):
		n, err := strconv.Atoi(line[len("OK\t"):])
		if err != nil || n < 0 {
			b.teardownLocked()
			return nil, ErrCompileFailed
		}

		out := make([]byte, n)
		if _, err := io.ReadFull(b.stdout, out); err != nil {
			b.teardownLocked()
			return nil, ErrCompileFailed
		}

		return out, nil
	case strings.HasPrefix(line, "ERR\t"):
		b.s.logger.Errorf(
			"wu: daemon compile failed for %s: %s",
			path,
			line[len("ERR\t"):],
		)
		return nil, ErrCompileFailed
	}

	b.teardownLocked()
	return nil, ErrCompileFailed
}

// compileOneShot is the last compile tier, used only when the daemon could
// not be spawned. JavaScript-family kinds run through the in-process
// esbuild transform; component-file kinds fall back to a single node
// invocation of the bundled script.
func (b *broker) compileOneShot(src []byte, path, kind, ext, framework string) ([]byte, error) {
	switch kind {
	case "solid", "qwik", "angular":
		return esbuildTransform(src, path, ext, framework)
	}

	script, err := b.ensureScript()
	if err != nil {
		return nil, ErrCompilerNotFound
	}

	cmd := exec.Command("node", script, "--once", kind, path)
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrCompilerNotFound
		}

		return nil, ErrCompileFailed
	}

	return out, nil
}

// esbuildTransform compiles a JavaScript-family file in process. The JSX
// factory is pinned to the same __jsx/__Fragment aliases the native tier
// emits, so the framework preamble works for both paths.
func esbuildTransform(src []byte, path, ext, framework string) ([]byte, error) {
	loader := api.LoaderTS
	switch ext {
	case ".jsx":
		loader = api.LoaderJSX
	case ".tsx":
		loader = api.LoaderTSX
	}

	res := api.Transform(string(src), api.TransformOptions{
		Loader:      loader,
		JSX:         api.JSXTransform,
		JSXFactory:  "__jsx",
		JSXFragment: "__Fragment",
		Target:      api.ES2020,
		Sourcefile:  path,
	})
	if len(res.Errors) > 0 {
		return nil, ErrCompileFailed
	}

	code := res.Code
	if ext == ".jsx" || ext == ".tsx" {
		preamble, ok := jsxPreambles[framework]
		if !ok {
			preamble = jsxPreambles["react"]
		}

		out := make([]byte, 0, len(preamble)+1+len(code))
		out = append(out, preamble...)
		out = append(out, '\n')
		out = append(out, code...)
		code = out
	}

	return code, nil
}

// teardownLocked kills the daemon. The caller holds the mutex.
func (b *broker) teardownLocked() {
	if b.cmd == nil {
		return
	}

	b.stdin.Close()
	b.cmd.Process.Kill()
	b.cmd.Wait()
	b.cmd = nil
	b.stdin = nil
	b.stdout = nil
}

// teardown kills the daemon, if one is running.
func (b *broker) teardown() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.teardownLocked()
}

// compilerScript is the bundled compiler daemon. It reads tab-framed
// COMPILE requests on stdin and answers each with an OK or ERR frame on
// stdout, loading the framework compilers out of the project's own
// node_modules. With --once it compiles a single file from stdin instead.
const compilerScript = `'use strict';

const path = require('path');

function load(name) {
  try {
    return require(require.resolve(name, { paths: [process.cwd()] }));
  } catch (_) {
    return null;
  }
}

function compile(kind, filename, source) {
  switch (kind) {
    case 'svelte': {
      const svelte = load('svelte/compiler');
      if (!svelte) throw new Error('svelte compiler not installed');
      return svelte.compile(source, { filename, generate: 'dom', css: 'injected' }).js.code;
    }
    case 'vue': {
      const sfc = load('vue/compiler-sfc') || load('@vue/compiler-sfc');
      if (!sfc) throw new Error('vue compiler not installed');
      const { descriptor } = sfc.parse(source, { filename });
      const id = path.basename(filename).replace(/[^a-zA-Z0-9]/g, '-');
      const script = sfc.compileScript(descriptor, { id, inlineTemplate: true });
      return script.content;
    }
    case 'solid':
    case 'qwik':
    case 'jsx':
    case 'angular': {
      const esbuild = load('esbuild');
      if (!esbuild) throw new Error('esbuild not installed');
      const loader = filename.endsWith('.tsx') ? 'tsx' : filename.endsWith('.ts') ? 'ts' : 'jsx';
      return esbuild.transformSync(source, { loader, target: 'es2020' }).code;
    }
    default:
      throw new Error('unknown compile kind: ' + kind);
  }
}

if (process.argv[2] === '--once') {
  const chunks = [];
  process.stdin.on('data', (c) => chunks.push(c));
  process.stdin.on('end', () => {
    try {
      process.stdout.write(compile(process.argv[3], process.argv[4], Buffer.concat(chunks).toString('utf8')));
    } catch (err) {
      process.stderr.write(String(err && err.message || err) + '\n');
      process.exit(1);
    }
  });
  return;
}

let buffer = Buffer.alloc(0);

process.stdin.on('data', (chunk) => {
  buffer = Buffer.concat([buffer, chunk]);
  for (;;) {
    const nl = buffer.indexOf(10);
    if (nl < 0) return;
    const header = buffer.slice(0, nl).toString('utf8').split('\t');
    if (header[0] !== 'COMPILE' || header.length < 6) {
      buffer = buffer.slice(nl + 1);
      continue;
    }
    const length = parseInt(header[5], 10);
    if (buffer.length < nl + 1 + length) return;
    const source = buffer.slice(nl + 1, nl + 1 + length).toString('utf8');
    buffer = buffer.slice(nl + 1 + length);
    try {
      const out = Buffer.from(compile(header[1], header[2], source), 'utf8');
      process.stdout.write('OK\t' + out.length + '\n');
      process.stdout.write(out);
    } catch (err) {
      const message = String(err && err.message || err).replace(/[\r\n\t]+/g, ' ');
      process.stdout.write('ERR\t' + message + '\n');
    }
  }
});
`
