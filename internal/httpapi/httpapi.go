package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kiosque/register/internal/cart"
	"kiosque/register/internal/queue"
	"kiosque/register/internal/remote"
	"kiosque/register/internal/service"
)

// API is the thin JSON facade the register UI talks to. Everything behind it
// runs on the same machine; authentication lives in the surrounding shop
// system, not here.
type API struct {
	service *service.Service
}

func New(svc *service.Service) *API {
	return &API{service: svc}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/catalog/products", a.handleProducts)
	mux.HandleFunc("/api/v1/cart", a.handleCart)
	mux.HandleFunc("/api/v1/cart/items", a.handleCartItems)
	mux.HandleFunc("/api/v1/cart/items/", a.handleCartItemActions)
	mux.HandleFunc("/api/v1/sale/finalize", a.handleFinalize)
	mux.HandleFunc("/api/v1/session", a.handleSession)
	mux.HandleFunc("/api/v1/queue", a.handleQueue)
	mux.HandleFunc("/api/v1/queue/quarantine", a.handleQuarantine)
	mux.HandleFunc("/api/v1/queue/quarantine/", a.handleQuarantineActions)
	mux.HandleFunc("/api/v1/sync", a.handleSync)
	mux.HandleFunc("/api/v1/connectivity", a.handleConnectivity)

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": a.service.Online()})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": a.service.Products()})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.CartView())
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id required"))
		return
	}

	if err := a.service.AddToCart(req.ProductID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.CartView())
}

// handleCartItemActions serves /api/v1/cart/items/{productID} and
// /api/v1/cart/items/{productID}/discount.
func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	if productID, ok := strings.CutSuffix(rest, "/discount"); ok {
		a.handleDiscount(w, r, productID)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown cart action"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.SetCartQuantity(rest, req.Quantity); err != nil {
			writeServiceError(w, err)
			return
		}
	case http.MethodDelete:
		a.service.RemoveFromCart(rest)
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.CartView())
}

func (a *API) handleDiscount(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Percent decimal.Decimal `json:"percent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.ApplyDiscount(productID, req.Percent); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.CartView())
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	record, err := a.service.FinalizeSale(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": record})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pendingCount, err := a.service.PendingCount()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":       a.service.Session(),
			"pending_count": pendingCount,
		})
	case http.MethodPost:
		var req struct {
			Cashier string `json:"cashier"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		closed, opened := a.service.OpenSession(strings.TrimSpace(req.Cashier))
		writeJSON(w, http.StatusOK, map[string]any{"closed": closed, "session": opened})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	entries, err := a.service.PendingEntries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_count": len(entries),
		"entries":       entries,
	})
}

func (a *API) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	entries, err := a.service.QuarantinedEntries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleQuarantineActions serves POST /api/v1/queue/quarantine/{id}/ack.
func (a *API) handleQuarantineActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/queue/quarantine/")
	id, ok := strings.CutSuffix(rest, "/ack")
	if !ok || id == "" {
		writeError(w, http.StatusBadRequest, errors.New("expected quarantine/{id}/ack"))
		return
	}

	if err := a.service.AcknowledgeQuarantined(id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": id})
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	report, err := a.service.DrainQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"online": a.service.Online()})
	case http.MethodPut:
		var req struct {
			Online bool `json:"online"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.service.SetOnline(req.Online)
		writeJSON(w, http.StatusOK, map[string]any{"online": a.service.Online()})
	default:
		writeMethodNotAllowed(w)
	}
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses.
// Validation failures keep their message; everything 5xx is logged and
// replaced by a generic message.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrStockExhausted), errors.Is(err, cart.ErrStockInsufficient):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, cart.ErrInvalidDiscount), errors.Is(err, cart.ErrLineNotFound):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, queue.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, remote.ErrRemoteWriteFailed), errors.Is(err, remote.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("httpapi: internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
