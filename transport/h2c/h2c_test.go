package h2c

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableServesPlainHTTP1Requests(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	u := &Upgrader{}
	wrapped := u.Enable(inner)
	require.NotNil(t, wrapped)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEnableMemoizesWrappedHandler(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	u := &Upgrader{}
	first := u.Enable(inner)
	second := u.Enable(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	assert.Same(t, first, second)
}
