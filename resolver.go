package wu

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/tidwall/gjson"
)

// resolver errors
var (
	// ErrPackageNotFound is returned when no search directory contains
	// the requested package.
	ErrPackageNotFound = errors.New("wu: package not found")

	// ErrEntryPointNotFound is returned when a package exists but none
	// of its declared entry points do.
	ErrEntryPointNotFound = errors.New("wu: entry point not found")
)

// ResolvedModule is the product of the `resolver`: the file to serve, the
// directory of the package that owns it and whether the file is an ES
// module.
type ResolvedModule struct {
	FilePath   string
	PackageDir string
	IsESM      bool
}

// exportConditions is the priority order of package.json "exports" (and
// "imports") condition flags.
var exportConditions = []string{
	"import",
	"module",
	"browser",
	"default",
	"require",
}

// subpathExts are the extension fallbacks tried when resolving a package
// subpath without an "exports" map.
var subpathExts = []string{".js", ".mjs", ".ts", ".tsx", ".jsx"}

// subpathIndexes are the directory-index fallbacks tried after the
// extension fallbacks.
var subpathIndexes = []string{
	"index.js",
	"index.mjs",
	"index.ts",
	"index.tsx",
}

// resolver resolves npm-style module specifiers against on-disk package
// trees. package.json bodies are kept in an in-memory cache keyed by path
// and verified against the file's mtime on every read.
type resolver struct {
	s *Server

	once  *sync.Once
	cache *fastcache.Cache
}

// newResolver returns a new instance of the `resolver` with the s.
func newResolver(s *Server) *resolver {
	return &resolver{
		s:    s,
		once: &sync.Once{},
	}
}

// splitSpecifier splits a bare specifier into its package name and
// subpath. Scoped names take up to the second slash.
func splitSpecifier(spec string) (pkg, subpath string) {
	slashes := 0
	for i := 0; i < len(spec); i++ {
		if spec[i] != '/' {
			continue
		}

		slashes++
		if strings.HasPrefix(spec, "@") && slashes < 2 {
			continue
		}

		return spec[:i], spec[i+1:]
	}

	return spec, ""
}

// readPackageJSON reads the package.json at the path through the cache.
// A cached body is served only while the file's mtime is unchanged.
func (r *resolver) readPackageJSON(path string) ([]byte, bool) {
	r.once.Do(func() {
		r.cache = fastcache.New(8 << 20)
	})

	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	mtime := uint64(fi.ModTime().UnixNano())
	if v := r.cache.Get(nil, []byte(path)); len(v) >= 8 {
		if binary.BigEndian.Uint64(v) == mtime {
			return v[8:], true
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	v := make([]byte, 8+len(b))
	binary.BigEndian.PutUint64(v, mtime)
	copy(v[8:], b)
	r.cache.Set([]byte(path), v)

	return b, true
}

// resolve resolves the spec against the searchDirs in order: first through
// each directory's node_modules, then through the directories themselves
// (workspace fallback).
func (r *resolver) resolve(spec string, searchDirs []string) (*ResolvedModule, error) {
	pkg, subpath := splitSpecifier(spec)

	for _, withNodeModules := range []bool{true, false} {
		for _, dir := range searchDirs {
			pkgDir := filepath.Join(dir, pkg)
			if withNodeModules {
				pkgDir = filepath.Join(dir, "node_modules", pkg)
			}

			b, ok := r.readPackageJSON(filepath.Join(pkgDir, "package.json"))
			if !ok {
				continue
			}

			return r.resolveInPackage(pkgDir, b, subpath)
		}
	}

	return nil, ErrPackageNotFound
}

// resolveInPackage resolves the subpath (possibly empty, meaning the
// package root) inside the package at the pkgDir whose package.json body
// is b.
func (r *resolver) resolveInPackage(pkgDir string, b []byte, subpath string) (*ResolvedModule, error) {
	esmByType := gjson.GetBytes(b, "type").String() == "module"

	if subpath != "" {
		return r.resolveSubpath(pkgDir, b, subpath, esmByType)
	}

	exports := gjson.GetBytes(b, "exports")
	if exports.Exists() {
		if target, esm := resolveExportTarget(exports, "."); target != "" {
			if p := existingFile(pkgDir, target); p != "" {
				return &ResolvedModule{
					FilePath:   p,
					PackageDir: pkgDir,
					IsESM:      esm || esmByType || isESMPath(p),
				}, nil
			}
		}
	}

	if m := gjson.GetBytes(b, "module").String(); m != "" {
		if p := existingFile(pkgDir, m); p != "" {
			return &ResolvedModule{
				FilePath:   p,
				PackageDir: pkgDir,
				IsESM:      true,
			}, nil
		}
	}

	if m := gjson.GetBytes(b, "main").String(); m != "" {
		if p := existingFile(pkgDir, m); p != "" {
			return &ResolvedModule{
				FilePath:   p,
				PackageDir: pkgDir,
				IsESM:      esmByType || isESMPath(p),
			}, nil
		}
	}

	if p := existingFile(pkgDir, "index.js"); p != "" {
		return &ResolvedModule{
			FilePath:   p,
			PackageDir: pkgDir,
			IsESM:      esmByType,
		}, nil
	}

	return nil, ErrEntryPointNotFound
}

// resolveSubpath resolves a package subpath: through the "exports" map
// when one exists, by direct file probing otherwise.
func (r *resolver) resolveSubpath(pkgDir string, b []byte, subpath string, esmByType bool) (*ResolvedModule, error) {
	exports := gjson.GetBytes(b, "exports")
	if exports.Exists() && exports.IsObject() {
		if target, esm := resolveExportTarget(exports, "./"+subpath); target != "" {
			if p := existingFile(pkgDir, target); p != "" {
				return &ResolvedModule{
					FilePath:   p,
					PackageDir: pkgDir,
					IsESM:      esm || esmByType || isESMPath(p),
				}, nil
			}
		}
	}

	if p := probeFile(pkgDir, subpath); p != "" {
		return &ResolvedModule{
			FilePath:   p,
			PackageDir: pkgDir,
			IsESM:      esmByType || isESMPath(p),
		}, nil
	}

	return nil, ErrEntryPointNotFound
}

// resolveImports resolves a "#"-prefixed specifier against the "imports"
// field of the package at the pkgDir, returning the target relative to the
// package directory.
func (r *resolver) resolveImports(pkgDir, spec string) (string, bool) {
	b, ok := r.readPackageJSON(filepath.Join(pkgDir, "package.json"))
	if !ok {
		return "", false
	}

	imports := gjson.GetBytes(b, "imports")
	if !imports.Exists() || !imports.IsObject() {
		return "", false
	}

	target, _ := resolveExportTarget(imports, spec)
	if target == "" {
		return "", false
	}

	if existingFile(pkgDir, target) == "" {
		return "", false
	}

	return target, true
}

// resolveExportTarget resolves the key inside an "exports"-shaped value:
// a string, a subpath map or a nested condition object. It honors the
// `exportConditions` priority and skips "types" entries. The second return
// reports whether the target was chosen through an ESM condition.
func resolveExportTarget(v gjson.Result, key string) (string, bool) {
	if v.Type == gjson.String {
		if key == "." {
			return exportTargetString(v.String())
		}

		return "", false
	}

	if !v.IsObject() {
		return "", false
	}

	// Subpath map ("." keys, or "#" keys for an imports field) or
	// condition object: the first key decides.
	subpathMap := false
	v.ForEach(func(k, _ gjson.Result) bool {
		subpathMap = strings.HasPrefix(k.String(), ".") ||
			strings.HasPrefix(k.String(), "#")
		return false
	})

	if subpathMap {
		var entry gjson.Result
		v.ForEach(func(k, ev gjson.Result) bool {
			if k.String() == key {
				entry = ev
				return false
			}

			return true
		})

		if !entry.Exists() {
			return "", false
		}

		return resolveConditionValue(entry)
	}

	if key != "." && !strings.HasPrefix(key, "#") {
		return "", false
	}

	return resolveConditionValue(v)
}

// resolveConditionValue resolves a condition object (or plain string) to
// its target string.
func resolveConditionValue(v gjson.Result) (string, bool) {
	if v.Type == gjson.String {
		return exportTargetString(v.String())
	}

	if !v.IsObject() {
		return "", false
	}

	for _, cond := range exportConditions {
		var entry gjson.Result
		v.ForEach(func(k, ev gjson.Result) bool {
			if k.String() == cond {
				entry = ev
				return false
			}

			return true
		})

		if !entry.Exists() {
			continue
		}

		target, esm := resolveConditionValue(entry)
		if target == "" {
			continue
		}

		return target, esm || cond == "import" || cond == "module"
	}

	return "", false
}

// exportTargetString filters out TypeScript declaration targets.
func exportTargetString(s string) (string, bool) {
	if strings.HasSuffix(s, ".d.ts") || strings.HasSuffix(s, ".d.mts") {
		return "", false
	}

	return s, false
}

// existingFile joins the dir and the rel and returns the path iff a
// regular file exists there.
func existingFile(dir, rel string) string {
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		return p
	}

	return ""
}

// probeFile resolves the rel under the dir by the direct-file fallbacks:
// extension probing, directory indexes, then the path verbatim.
func probeFile(dir, rel string) string {
	for _, ext := range subpathExts {
		if p := existingFile(dir, rel+ext); p != "" {
			return p
		}
	}

	for _, idx := range subpathIndexes {
		if p := existingFile(dir, rel+"/"+idx); p != "" {
			return p
		}
	}

	return existingFile(dir, rel)
}

// isESMPath reports whether the file extension alone marks the path as an
// ES module.
func isESMPath(p string) bool {
	return strings.HasSuffix(p, ".mjs")
}
