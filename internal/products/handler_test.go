package products

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigear/internal/commerce"
)

func newTestMux(t *testing.T) (*http.ServeMux, *fakeTokens, *fakeCatalog) {
	t.Helper()
	svc, tokens, catalog, _ := newTestService(t)
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	return mux, tokens, catalog
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Markets(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rr := serve(mux, http.MethodGet, "/api/markets")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"id":"eu","name":"Europe"},{"id":"us","name":"United States"}]`, rr.Body.String())
}

func TestHandler_List(t *testing.T) {
	mux, _, catalog := newTestMux(t)

	rr := serve(mux, http.MethodGet, "/api/products?market=eu&category=wetsuits")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "eu", body.Market)
	assert.Equal(t, "wetsuits", body.Category)
	require.Len(t, body.Products, 1)
	assert.Equal(t, "WS-01", body.Products[0].Code)

	rr = serve(mux, http.MethodGet, "/api/products?tag=+Bike+Gear+&category=+bike-gear")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bike Gear", catalog.params[1].TagFilter)
	assert.Equal(t, "list-eu", catalog.params[1].ListID)
	body = listResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Bike Gear", body.Tag)
	assert.Equal(t, "bike-gear", body.Category)
}

func TestHandler_Product(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rr := serve(mux, http.MethodGet, "/api/products/HM-01?market=eu")
	require.Equal(t, http.StatusOK, rr.Code)
	var body productResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Aero Helmet", body.Product.Name)

	rr = serve(mux, http.MethodGet, "/api/products/NOPE")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"product not found"}`, rr.Body.String())
}

func TestHandler_Schema(t *testing.T) {
	mux, _, catalog := newTestMux(t)

	rr := serve(mux, http.MethodGet, "/api/products/schema")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "priceFormatted")
	assert.Contains(t, rr.Body.String(), "compareAtPriceFormatted")
	assert.Equal(t, 0, catalog.callCount())
}

func TestHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		target     string
		tokenErr   error
		catalogErr error
		wantStatus int
		wantError  string
	}{
		{
			name:       "unknown market",
			target:     "/api/products?market=jp",
			wantStatus: http.StatusNotFound,
			wantError:  "unknown market",
		},
		{
			name:       "token rejected",
			target:     "/api/products",
			tokenErr:   &commerce.AuthenticationError{Scope: "market:id:eu", StatusCode: 401, Body: "secret details"},
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream commerce platform unavailable",
		},
		{
			name:       "catalog failure",
			target:     "/api/products/WS-01",
			catalogErr: &commerce.CatalogFetchError{ListID: "list-eu", StatusCode: 500, Body: "boom"},
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream commerce platform unavailable",
		},
		{
			name:       "projection failure",
			target:     "/api/products",
			catalogErr: &commerce.ProjectionError{Reason: "document is nil"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "unable to build product listing",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, tokens, catalog := newTestMux(t)
			tokens.err = tc.tokenErr
			catalog.fail = tc.catalogErr

			rr := serve(mux, http.MethodGet, tc.target)
			assert.Equal(t, tc.wantStatus, rr.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.wantError, body.Error)
			assert.NotContains(t, rr.Body.String(), "secret details")
		})
	}
}

func TestHandler_NotConfigured(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	svc.cfg.Commerce.ClientID = ""
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)

	rr := serve(mux, http.MethodGet, "/api/products")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"storefront is not configured"}`, rr.Body.String())
}

func TestHandler_Clear(t *testing.T) {
	mux, tokens, catalog := newTestMux(t)

	require.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/api/products").Code)
	require.Equal(t, 1, catalog.callCount())

	rr := serve(mux, http.MethodPost, "/api/cache/clear?market=eu")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, int32(0), tokens.clears.Load())

	rr = serve(mux, http.MethodPost, "/api/cache/clear")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, int32(1), tokens.clears.Load())

	require.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/api/products").Code)
	assert.Equal(t, 2, catalog.callCount())

	rr = serve(mux, http.MethodPost, "/api/cache/clear?market=jp")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(mux, http.MethodGet, "/api/cache/clear")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
