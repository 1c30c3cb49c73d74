package payment

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Handler exposes ledger operations over HTTP.
type Handler struct {
	Ledger   *Ledger
	Validate *validator.Validate
}

type amountRequest struct {
	Amount   pricing.Money `json:"amount" validate:"required,gt=0"`
	Currency string        `json:"currency" validate:"omitempty,len=3,alpha"`
}

// Routes mounts the ledger endpoints under /orders/{orderID}/transactions.
func (h *Handler) Routes(r chi.Router, writeMW ...func(http.Handler) http.Handler) {
	r.Route("/orders/{orderID}/transactions", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(writeMW...)
			r.Post("/authorize", h.write(h.Ledger.Authorize))
			r.Post("/capture", h.write(h.Ledger.Capture))
			r.Post("/refund", h.write(h.Ledger.Refund))
		})
		r.Get("/capturable", h.lookup(h.Ledger.CapturableTransaction))
		r.Get("/refundable", h.lookup(h.Ledger.RefundableTransaction))
		r.Get("/last", h.lookup(h.Ledger.LastTransaction))
	})
}

func (h *Handler) write(op func(ctx context.Context, req Request) (Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body amountRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
		if h.Validate != nil {
			if err := h.Validate.Struct(body); err != nil {
				common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid payload", common.FieldErrors(err))
				return
			}
		}
		tx, err := op(r.Context(), Request{
			StoreID:  chi.URLParam(r, "storeID"),
			OrderID:  chi.URLParam(r, "orderID"),
			Amount:   body.Amount,
			Currency: body.Currency,
		})
		if err != nil {
			common.WriteError(w, err)
			return
		}
		common.JSON(w, http.StatusCreated, map[string]any{"data": tx})
	}
}

func (h *Handler) lookup(op func(ctx context.Context, storeID, orderID string) (*Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := op(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"))
		if err != nil {
			common.WriteError(w, err)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": tx})
	}
}
