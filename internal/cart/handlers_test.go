package cart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-pricing/internal/common"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newRouter(f *fixture) http.Handler {
	h := &Handler{Svc: f.svc, Validate: validator.New()}
	r := chi.NewRouter()
	r.Route("/api/v1/cart", func(r chi.Router) { h.Routes(r) })
	return r
}

func do(t *testing.T, router http.Handler, method, path, uid, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req = req.WithContext(common.WithUserID(req.Context(), uid))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHandlerAddAndGet(t *testing.T) {
	f := newFixture(t)
	f.product("p1", 10_000, nil, "")
	router := newRouter(f)

	rec, env := do(t, router, http.MethodPost, "/api/v1/cart/items", "u1", `{"productId":"p1","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var added struct {
		Item    map[string]any `json:"item"`
		Summary map[string]any `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &added))
	require.Equal(t, "p1", added.Item["productId"])
	require.EqualValues(t, 200, added.Summary["total"])

	rec, env = do(t, router, http.MethodGet, "/api/v1/cart", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		CartID string           `json:"cartId"`
		Items  []map[string]any `json:"items"`
		State  string           `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, "cart-u1", view.CartID)
	require.Len(t, view.Items, 1)
	require.Equal(t, "cached", view.State)
}

func TestHandlerValidation(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rec, env := do(t, router, http.MethodPost, "/api/v1/cart/items", "u1", `{"productId":"p1","quantity":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
	require.Equal(t, "required", env.Error.Details["Quantity"])

	rec, _ = do(t, router, http.MethodPost, "/api/v1/cart/items", "u1", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, router, http.MethodPost, "/api/v1/cart/combos", "u1", `{"quantity":1,"mainProductId":"m","children":[{}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "required", env.Error.Details["ProductID"])
}

func TestHandlerNotFoundAndUnauthorized(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rec, env := do(t, router, http.MethodPost, "/api/v1/cart/items", "u1", `{"productId":"ghost","quantity":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, _ = do(t, router, http.MethodDelete, "/api/v1/cart/items/nope", "u1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, router, http.MethodGet, "/api/v1/cart", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestHandlerUpdateAndRemove(t *testing.T) {
	f := newFixture(t)
	f.product("p1", 10_000, nil, "")
	router := newRouter(f)

	_, env := do(t, router, http.MethodPost, "/api/v1/cart/items", "u1", `{"productId":"p1","quantity":1}`)
	var added struct {
		Item struct {
			ID string `json:"id"`
		} `json:"item"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &added))

	rec, env := do(t, router, http.MethodPatch, "/api/v1/cart/items/"+added.Item.ID, "u1", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated struct {
		Item    map[string]any `json:"item"`
		Summary map[string]any `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	require.EqualValues(t, 4, updated.Item["quantity"])
	require.EqualValues(t, 400, updated.Summary["subtotal"])

	rec, env = do(t, router, http.MethodDelete, "/api/v1/cart/items/"+added.Item.ID, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var removed struct {
		Summary map[string]any `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &removed))
	require.EqualValues(t, 0, removed.Summary["total"])
}

func TestHandlerPersistenceFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.product("p1", 10_000, nil, "")
	f.store.failSave = true
	router := newRouter(f)

	rec, env := do(t, router, http.MethodPost, "/api/v1/cart/items", "u1", `{"productId":"p1","quantity":1}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "INTERNAL", env.Error.Code)
	require.NotContains(t, env.Error.Message, "disk full")
}
