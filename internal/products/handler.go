package products

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/invopop/jsonschema"

	"trigear/internal/commerce"
)

type Handler struct {
	svc    *Service
	schema []byte
}

func NewHandler(svc *Service) *Handler {
	schema, err := json.Marshal(jsonschema.Reflect(&commerce.DisplayProduct{}))
	if err != nil {
		panic(err)
	}
	return &Handler{svc: svc, schema: schema}
}

type listResponse struct {
	Market   string                    `json:"market"`
	Tag      string                    `json:"tag,omitempty"`
	Category string                    `json:"category,omitempty"`
	Products []commerce.DisplayProduct `json:"products"`
}

type productResponse struct {
	Market  string                  `json:"market"`
	Product commerce.DisplayProduct `json:"product"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/markets", h.handleMarkets)
	mux.HandleFunc("GET /api/products", h.handleList)
	mux.HandleFunc("GET /api/products/schema", h.handleSchema)
	mux.HandleFunc("GET /api/products/{code}", h.handleProduct)
	mux.HandleFunc("POST /api/cache/clear", h.handleClear)
}

func (h *Handler) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.svc.Markets()
	if len(markets) == 0 {
		writeError(w, r, &commerce.ConfigurationError{Missing: []string{"STOREFRONT_MARKETS"}})
		return
	}
	writeJSON(w, r, http.StatusOK, markets)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	market, err := h.svc.Market(q.Get("market"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	tag := strings.TrimSpace(q.Get("tag"))
	category := strings.TrimSpace(q.Get("category"))
	products, err := h.svc.List(ctx, market.ID, tag)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, listResponse{
		Market:   market.ID,
		Tag:      tag,
		Category: category,
		Products: FilterByCategory(products, category),
	})
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	market, err := h.svc.Market(r.URL.Query().Get("market"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := r.PathValue("code")
	product, ok, err := h.svc.Product(ctx, market.ID, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "product not found"})
		return
	}
	writeJSON(w, r, http.StatusOK, productResponse{Market: market.ID, Product: product})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	if market := r.URL.Query().Get("market"); market != "" {
		err = h.svc.ClearMarket(ctx, market)
	} else {
		err = h.svc.Clear(ctx)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	if _, err := w.Write(h.schema); err != nil {
		slog.ErrorContext(r.Context(), "failed to write product schema", "error", err)
	}
}

// statusFor maps a service error to the status and message shown to clients.
// Upstream bodies stay in the logs.
func statusFor(err error) (int, string) {
	var (
		cfgErr   *commerce.ConfigurationError
		authErr  *commerce.AuthenticationError
		fetchErr *commerce.CatalogFetchError
		projErr  *commerce.ProjectionError
	)
	switch {
	case errors.Is(err, ErrUnknownMarket):
		return http.StatusNotFound, "unknown market"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "storefront is not configured"
	case errors.As(err, &authErr), errors.As(err, &fetchErr):
		return http.StatusBadGateway, "upstream commerce platform unavailable"
	case errors.As(err, &projErr):
		return http.StatusInternalServerError, "unable to build product listing"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "product request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, r, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}
