package wu

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	s := New()

	assert.Equal(t, "wu", s.AppName)
	assert.Equal(t, ".", s.Root)
	assert.Equal(t, ".wu-cache", s.CacheRoot)
	assert.Equal(t, 100*time.Millisecond, s.WatchInterval)
	assert.False(t, s.DebugMode)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.minifier)
	assert.NotNil(t, s.resolver)
	assert.NotNil(t, s.cache)
	assert.NotNil(t, s.broker)
	assert.NotNil(t, s.router)
	assert.NotNil(t, s.watcher)
}

func TestSwapProjectRetainsSnapshots(t *testing.T) {
	s := New()

	first := &ProjectConfig{Name: "one"}
	second := &ProjectConfig{Name: "two"}

	s.swapProject(first)
	assert.Same(t, first, s.project())
	assert.Empty(t, s.snapshots)

	s.swapProject(second)
	assert.Same(t, second, s.project())
	assert.Len(t, s.snapshots, 1)
	assert.Same(t, first, s.snapshots[0])
}

func TestShutdownRunsJobsOnce(t *testing.T) {
	s := New()

	ran := 0
	s.AddShutdownJob(func() { ran++ })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 1, ran)
}

func TestServeHTTPAfterShutdown(t *testing.T) {
	s := New()
	s.swapProject(&ProjectConfig{})
	s.stopping.Store(true)

	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
}

func TestServeHTTPGasChainOrder(t *testing.T) {
	s := New()
	s.swapProject(&ProjectConfig{Shell: ShellEntry{Dir: "shell"}})
	s.Root = t.TempDir()

	var order []string
	mark := func(name string) Gas {
		return func(next Handler) Handler {
			return func(rw http.ResponseWriter, r *http.Request) error {
				order = append(order, name)
				return next(rw, r)
			}
		}
	}

	s.Gases = []Gas{mark("outer"), mark("inner")}

	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/nothing", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestServeHTTPErrorAnswers500(t *testing.T) {
	s := New()
	s.swapProject(&ProjectConfig{Shell: ShellEntry{Dir: "shell"}})
	s.Root = t.TempDir()
	s.Gases = []Gas{
		func(Handler) Handler {
			return func(http.ResponseWriter, *http.Request) error {
				return errors.New("exploded")
			}
		},
	}

	rw := httptest.NewRecorder()
	s.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, findConfigFile(root))

	writeFixture(t, root, "wu.config.json", "{}")
	assert.Contains(t, findConfigFile(root), "wu.config.json")
}
