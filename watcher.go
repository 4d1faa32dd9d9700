package wu

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vmihailenco/msgpack/v5"
)

// watchCapacity bounds the watch table; files beyond it are silently
// dropped from watching.
const watchCapacity = 4096

// configDebounceScans is how many successive scans the configuration
// file's mtime must hold still before a reload.
const configDebounceScans = 5

// watchStateName is the warm-start snapshot of the watch table, persisted
// under the cache root on shutdown.
const watchStateName = "watch-state.msgpack"

// skipDirs are directory names never descended into during a scan round.
// Dot-prefixed directories are skipped wholesale on top of these.
var skipDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".git":         true,
	".svelte-kit":  true,
	".next":        true,
	".nuxt":        true,
	"coverage":     true,
	".claude":      true,
}

// watchExts are the filename extensions a scan round stats.
var watchExts = map[string]bool{
	".js":     true,
	".mjs":    true,
	".ts":     true,
	".tsx":    true,
	".jsx":    true,
	".html":   true,
	".css":    true,
	".json":   true,
	".svelte": true,
	".vue":    true,
	".astro":  true,
}

// watchEntry is one watched file: its mtime as of the last scan and the
// scan round that last saw it. After a round completes, an entry whose
// generation is older than the round marks a deleted file.
type watchEntry struct {
	mtime      int64
	generation uint64
}

// watcher drives the scan loop: every interval it walks the live app
// directories plus the shell, classifies what changed, publishes one HMR
// event per changed round and bumps the reload counter. It holds no
// pointer back into the request path — readers pull from the shared slot.
type watcher struct {
	s *Server

	entries    map[uint64]*watchEntry
	generation uint64
	coldStart  bool

	configMtime   int64
	pendingMtime  int64
	debounceScans int

	notify *fsnotify.Watcher
	nudge  chan struct{}
}

// newWatcher returns a new instance of the `watcher` with the s.
func newWatcher(s *Server) *watcher {
	return &watcher{
		s:       s,
		entries: map[uint64]*watchEntry{},
		nudge:   make(chan struct{}, 1),
	}
}

// run is the watcher's goroutine: a scan every interval, pulled earlier
// when the filesystem notifier fires. The polling round stays the single
// authority for change classification.
func (w *watcher) run() {
	w.loadState()
	w.coldStart = len(w.entries) == 0

	if mtime, err := fileMTime(w.s.configPath); err == nil {
		w.configMtime = mtime
	}

	w.startNotifier()
	defer w.stopNotifier()

	ticker := time.NewTicker(w.s.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.s.stopCh:
			w.saveState()
			return
		case <-ticker.C:
		case <-w.nudge:
		}

		w.scan()
	}
}

// startNotifier wires the filesystem notifier to the nudge channel.
// Failure to create one just means scans run purely on the timer.
func (w *watcher) startNotifier() {
	nw, err := fsnotify.NewWatcher()
	if err != nil {
		w.s.logger.Warnf("wu: filesystem notifier unavailable: %v", err)
		return
	}

	w.notify = nw

	pc := w.s.project()
	roots := []string{filepath.Join(w.s.Root, pc.Shell.Dir)}
	for _, app := range pc.Apps {
		roots = append(roots, filepath.Join(w.s.Root, app.Dir))
	}

	for _, root := range roots {
		_ = nw.Add(root)
	}

	go func() {
		for {
			select {
			case _, ok := <-nw.Events:
				if !ok {
					return
				}

				select {
				case w.nudge <- struct{}{}:
				default:
				}
			case _, ok := <-nw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// stopNotifier closes the filesystem notifier.
func (w *watcher) stopNotifier() {
	if w.notify != nil {
		w.notify.Close()
	}
}

// roundState accumulates what one scan round observed.
type roundState struct {
	changed      map[string]map[string]bool // app name -> set of changed exts
	changedApps  []AppEntry
	shellChanged bool
	deletions    bool
}

// scan performs one round: walk, diff, prune, classify, publish.
func (w *watcher) scan() {
	w.generation++

	pc := w.s.project()
	rs := &roundState{changed: map[string]map[string]bool{}}

	shellDir := filepath.Join(w.s.Root, pc.Shell.Dir)
	w.walk(shellDir, AppEntry{}, true, rs)

	for _, app := range pc.Apps {
		w.walk(filepath.Join(w.s.Root, app.Dir), app, false, rs)
	}

	// Prune entries the round no longer saw: those are deletions.
	for h, e := range w.entries {
		if e.generation != w.generation {
			delete(w.entries, h)
			rs.deletions = true
		}
	}

	configChanged := w.checkConfig()

	if w.coldStart && w.generation == 1 {
		// The first round only populates the table.
		return
	}

	w.classify(rs, configChanged)
}

// walk recursively descends the root, stat-ing watched files and recording
// changes against the app (or the shell). An unreadable subtree is skipped
// for this round; the next round retries it.
func (w *watcher) walk(root string, app AppEntry, shell bool, rs *roundState) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			name := d.Name()
			if path != root &&
				(skipDirs[name] || strings.HasPrefix(name, ".")) {
				return fs.SkipDir
			}

			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !watchExts[ext] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		mtime := fi.ModTime().UnixNano()
		h := hashPath(path)

		e, ok := w.entries[h]
		if !ok {
			if len(w.entries) >= watchCapacity {
				return nil
			}

			w.entries[h] = &watchEntry{
				mtime:      mtime,
				generation: w.generation,
			}

			// A brand-new file counts as a change on every round
			// after the table was first populated.
			if w.generation > 1 || !w.coldStart {
				w.record(rs, app, shell, ext)
			}

			return nil
		}

		if e.mtime != mtime {
			e.mtime = mtime
			w.record(rs, app, shell, ext)
		}

		e.generation = w.generation
		return nil
	})
}

// record marks the app (or the shell) as changed this round with the ext.
func (w *watcher) record(rs *roundState, app AppEntry, shell bool, ext string) {
	if shell {
		rs.shellChanged = true
		return
	}

	if rs.changed[app.Name] == nil {
		rs.changed[app.Name] = map[string]bool{}
		rs.changedApps = append(rs.changedApps, app)
	}

	rs.changed[app.Name][ext] = true
}

// checkConfig stats the configuration file and, after its mtime has held
// still for five successive scans, reloads the configuration and swaps the
// live app list. It reports whether a swap happened this round.
func (w *watcher) checkConfig() bool {
	if w.s.configPath == "" {
		return false
	}

	mtime, err := fileMTime(w.s.configPath)
	if err != nil {
		return false
	}

	if mtime != w.configMtime && w.debounceScans == 0 {
		w.pendingMtime = mtime
		w.debounceScans = configDebounceScans
		return false
	}

	if w.debounceScans == 0 {
		return false
	}

	if mtime != w.pendingMtime {
		// Still being written; restart the window.
		w.pendingMtime = mtime
		w.debounceScans = configDebounceScans
		return false
	}

	w.debounceScans--
	if w.debounceScans > 0 {
		return false
	}

	w.configMtime = mtime

	pc, err := LoadProjectConfig(w.s.Root)
	if err != nil {
		w.s.logger.Errorf("wu: configuration reload failed: %v", err)
		return false
	}

	w.s.swapProject(pc)
	w.s.logger.Infof(
		"wu: configuration reloaded, %d app(s)",
		len(pc.Apps),
	)

	return true
}

// classify turns the round's observations into at most one HMR event.
func (w *watcher) classify(rs *roundState, configChanged bool) {
	switch {
	case configChanged || len(rs.changedApps) >= 2 || rs.shellChanged ||
		rs.deletions:
		w.s.publishHMREvent(HMREvent{Type: hmrFullReload})
	case len(rs.changedApps) == 1:
		app := rs.changedApps[0]
		exts := rs.changed[app.Name]
		if len(exts) == 1 && exts[".css"] {
			w.s.publishHMREvent(HMREvent{
				Type: hmrCSSUpdate,
				App:  app.Name,
			})
			return
		}

		w.s.publishHMREvent(HMREvent{
			Type:      hmrAppUpdate,
			App:       app.Name,
			Dir:       app.Dir,
			Framework: app.Framework,
		})
	}
}

// loadState warms the watch table from the snapshot persisted by the
// previous run, so a restart does not classify every file as changed.
func (w *watcher) loadState() {
	b, err := os.ReadFile(filepath.Join(w.s.CacheRoot, watchStateName))
	if err != nil {
		return
	}

	state := map[uint64]int64{}
	if err := msgpack.Unmarshal(b, &state); err != nil {
		return
	}

	for h, mtime := range state {
		if len(w.entries) >= watchCapacity {
			break
		}

		w.entries[h] = &watchEntry{mtime: mtime}
	}
}

// saveState persists the watch table for the next run. Best effort.
func (w *watcher) saveState() {
	state := make(map[uint64]int64, len(w.entries))
	for h, e := range w.entries {
		state[h] = e.mtime
	}

	b, err := msgpack.Marshal(state)
	if err != nil {
		return
	}

	_ = os.WriteFile(filepath.Join(w.s.CacheRoot, watchStateName), b, 0o644)
}
