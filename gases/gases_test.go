package gases

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	wu "github.com/LuisPadre25/wu-cli"
	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	gas := CORS(CORSConfig{})
	h := gas(func(rw http.ResponseWriter, r *http.Request) error {
		rw.WriteHeader(http.StatusOK)
		return nil
	})

	rw := httptest.NewRecorder()
	assert.NoError(t, h(rw, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, "*", rw.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rw.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSSkipper(t *testing.T) {
	gas := CORS(CORSConfig{
		Skipper: func(*http.Request) bool { return true },
	})
	h := gas(func(rw http.ResponseWriter, r *http.Request) error {
		return nil
	})

	rw := httptest.NewRecorder()
	assert.NoError(t, h(rw, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Empty(t, rw.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecover(t *testing.T) {
	s := wu.New()
	gas := Recover(RecoverConfig{Logger: s.Logger()})
	h := gas(func(http.ResponseWriter, *http.Request) error {
		panic("boom")
	})

	rw := httptest.NewRecorder()
	err := h(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRecoverPassesThrough(t *testing.T) {
	s := wu.New()
	gas := Recover(RecoverConfig{Logger: s.Logger()})
	want := errors.New("plain failure")
	h := gas(func(http.ResponseWriter, *http.Request) error {
		return want
	})

	rw := httptest.NewRecorder()
	assert.Equal(t, want, h(rw, httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestLogger(t *testing.T) {
	s := wu.New()
	gas := Logger(LoggerConfig{Logger: s.Logger()})
	h := gas(func(rw http.ResponseWriter, r *http.Request) error {
		rw.WriteHeader(http.StatusTeapot)
		return nil
	})

	rw := httptest.NewRecorder()
	assert.NoError(t, h(rw, httptest.NewRequest(http.MethodGet, "/x", nil)))
	assert.Equal(t, http.StatusTeapot, rw.Code)
}
