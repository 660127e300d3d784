package common_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-pricing/internal/common"
)

func newIdem(t *testing.T) (common.Idem, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}, mr
}

func post(h http.Handler, uid, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(common.WithUserID(req.Context(), uid))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysCompletedRequest(t *testing.T) {
	idem, _ := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"quantity": calls}})
	}))

	first := post(h, "u1", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := post(h, "u1", "abc")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, calls)

	other := post(h, "u2", "abc")
	require.Equal(t, http.StatusCreated, other.Code)
	require.Equal(t, 2, calls)

	post(h, "u1", "")
	require.Equal(t, 3, calls)
}

func TestIdempotencyRejectsInFlight(t *testing.T) {
	idem, mr := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	first := post(h, "u1", "k1")
	require.Equal(t, http.StatusOK, first.Code)

	for _, key := range mr.Keys() {
		mr.Set(key, "pending")
	}
	rec := post(h, "u1", "k1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "IDEMPOTENT_REPLAY")
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	idem, mr := newIdem(t)
	fail := true
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "boom", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.Equal(t, http.StatusInternalServerError, post(h, "u1", "k2").Code)
	require.Empty(t, mr.Keys())

	fail = false
	require.Equal(t, http.StatusOK, post(h, "u1", "k2").Code)
}
