package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-flash-sale.git/internal/admission"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale.git/internal/saga"
)

// ArchiveReader serves status polls for attempts that finished before the
// current process started.
type ArchiveReader interface {
	GetAttempt(ctx context.Context, id string) (flashsale.PurchaseAttempt, error)
}

// StatusReader serves status polls for attempts running on another instance,
// out of the shared status mirror.
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (flashsale.PurchaseAttempt, error)
}

type PurchaseHandler struct {
	Gate    *admission.Gate
	Room    *admission.WaitingRoom // optional
	Saga    *saga.Orchestrator
	Catalog *flashsale.Catalog
	Status  StatusReader  // optional
	Archive ArchiveReader // optional
	// RunCtx parents saga goroutines so they outlive the HTTP request.
	RunCtx context.Context
}

func (h *PurchaseHandler) Register(r *chi.Mux) {
	r.Post("/purchase", h.submitPurchase)
	r.Get("/purchase/{id}", h.getPurchase)
	r.Delete("/purchase/{id}", h.cancelPurchase)
	r.Get("/sales", h.listSales)
	r.Get("/sales/{id}", h.getSale)
}

type purchaseReq struct {
	UserID       string `json:"user_id"`
	SaleItemID   string `json:"sale_item_id"`
	PaymentToken string `json:"payment_token,omitempty"`
}

type purchaseResp struct {
	AttemptID     string `json:"attempt_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func (h *PurchaseHandler) submitPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if req.UserID == "" || req.SaleItemID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "user_id and sale_item_id are required")
		return
	}

	// The gate never sees requests for items that cannot sell.
	status, err := h.Catalog.Status(req.SaleItemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "sale_not_found", "unknown sale item")
		return
	}
	switch status {
	case flashsale.SaleActive:
	case flashsale.SaleSoldOut:
		writeError(w, http.StatusConflict, "exhausted", "sold out")
		return
	default:
		writeError(w, http.StatusConflict, "sale_not_active", "sale is not active")
		return
	}

	dec, err := h.Gate.Submit(r.Context(), req.UserID, req.SaleItemID, req.PaymentToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "admission failed")
		return
	}

	switch dec.Kind {
	case admission.Rejected:
		writeError(w, http.StatusForbidden, "rejected", dec.Reason)
	case admission.Throttled:
		writeError(w, http.StatusTooManyRequests, "throttled", "too many requests, retry later")
	case admission.Queued:
		writeJSON(w, http.StatusAccepted, purchaseResp{
			AttemptID:     dec.Ticket.ID,
			Status:        "queued",
			QueuePosition: dec.Position,
		})
	case admission.Admitted:
		a, err := h.Saga.Begin(r.Context(), req.UserID, req.SaleItemID, req.PaymentToken, dec.Ticket.ID)
		if err != nil {
			h.writeBeginError(w, err)
			return
		}
		h.Saga.Go(h.RunCtx, a.ID)
		writeJSON(w, http.StatusAccepted, purchaseResp{AttemptID: a.ID, Status: "admitted"})
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unknown admission decision")
	}
}

func (h *PurchaseHandler) writeBeginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flashsale.ErrExhausted):
		writeError(w, http.StatusConflict, "exhausted", "sold out")
	case errors.Is(err, flashsale.ErrSaleNotActive):
		writeError(w, http.StatusConflict, "sale_not_active", "sale is not active")
	case errors.Is(err, flashsale.ErrSaleNotFound):
		writeError(w, http.StatusNotFound, "sale_not_found", "unknown sale item")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start purchase")
	}
}

type attemptResp struct {
	AttemptID  string `json:"attempt_id"`
	Step       string `json:"step"`
	OrderID    string `json:"order_id,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
}

func (h *PurchaseHandler) getPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "missing id")
		return
	}

	if a, ok := h.Saga.Lookup(id); ok {
		writeJSON(w, http.StatusOK, attemptResp{AttemptID: a.ID, Step: string(a.Step), OrderID: a.OrderID, FailReason: a.FailReason})
		return
	}
	if h.Room != nil {
		if _, pos, ok := h.Room.Lookup(id); ok {
			writeJSON(w, http.StatusOK, purchaseResp{AttemptID: id, Status: "queued", QueuePosition: pos})
			return
		}
	}
	if h.Status != nil {
		a, err := h.Status.GetStatus(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, attemptResp{AttemptID: a.ID, Step: string(a.Step), OrderID: a.OrderID, FailReason: a.FailReason})
			return
		}
		if !errors.Is(err, flashsale.ErrAttemptNotFound) {
			log.Printf("purchase handler: status mirror lookup %s: %v", id, err)
		}
	}
	if h.Archive != nil {
		a, err := h.Archive.GetAttempt(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, attemptResp{AttemptID: a.ID, Step: string(a.Step), OrderID: a.OrderID, FailReason: a.FailReason})
			return
		}
		if !errors.Is(err, flashsale.ErrAttemptNotFound) {
			log.Printf("purchase handler: archive lookup %s: %v", id, err)
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown attempt")
}

func (h *PurchaseHandler) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.Saga.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"attempt_id": id, "status": "canceling"})
	case errors.Is(err, flashsale.ErrAttemptTerminal):
		writeError(w, http.StatusConflict, "already_terminal", "attempt already finished")
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown attempt")
	}
}

type saleResp struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TotalUnits int    `json:"total_units"`
	PriceCents int    `json:"price_cents"`
	StartsAt   string `json:"starts_at"`
	EndsAt     string `json:"ends_at"`
	Status     string `json:"status"`
}

func toSaleResp(it flashsale.SaleItem) saleResp {
	return saleResp{
		ID:         it.ID,
		Name:       it.Name,
		TotalUnits: it.TotalUnits,
		PriceCents: it.PriceCents,
		StartsAt:   it.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:     it.EndsAt.UTC().Format(time.RFC3339),
		Status:     string(it.Status),
	}
}

func (h *PurchaseHandler) listSales(w http.ResponseWriter, r *http.Request) {
	h.Catalog.Refresh()
	items := h.Catalog.List()
	out := make([]saleResp, 0, len(items))
	for _, it := range items {
		out = append(out, toSaleResp(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PurchaseHandler) getSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.Catalog.Refresh()
	it, ok := h.Catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "sale_not_found", "unknown sale item")
		return
	}
	writeJSON(w, http.StatusOK, toSaleResp(it))
}
