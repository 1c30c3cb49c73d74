package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Handler exposes checkout calculation and shipping quotes over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type calculateRequest struct {
	Cart     Cart              `json:"cart" validate:"required"`
	Customer *pricing.Customer `json:"customer,omitempty"`
	Language string            `json:"language" validate:"omitempty,max=16"`
	QuoteID  string            `json:"quoteId" validate:"omitempty,max=64"`
}

type quoteRequest struct {
	Cart Cart `json:"cart" validate:"required"`
}

// Routes mounts the checkout endpoints. quoteMW wraps quote creation only.
func (h *Handler) Routes(r chi.Router, quoteMW ...func(http.Handler) http.Handler) {
	r.Post("/checkout/calculate", h.Calculate)
	r.Route("/shipping/quotes", func(r chi.Router) {
		r.With(quoteMW...).Post("/", h.RequestQuote)
		r.Get("/{quoteID}", h.ShippingSummary)
	})
}

// Calculate handles POST /checkout/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var body calculateRequest
	if !h.decode(w, r, &body) {
		return
	}
	out, err := h.Svc.Calculate(r.Context(), CalculateInput{
		Cart:     body.Cart,
		Customer: body.Customer,
		StoreID:  chi.URLParam(r, "storeID"),
		Language: body.Language,
		QuoteID:  body.QuoteID,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// RequestQuote handles POST /shipping/quotes.
func (h *Handler) RequestQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteRequest
	if !h.decode(w, r, &body) {
		return
	}
	quotes, err := h.Svc.RequestShippingQuote(r.Context(), body.Cart, chi.URLParam(r, "storeID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": quotes})
}

// ShippingSummary handles GET /shipping/quotes/{quoteID}.
func (h *Handler) ShippingSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Svc.GetShippingSummary(r.Context(), chi.URLParam(r, "quoteID"), chi.URLParam(r, "storeID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sum})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid payload", common.FieldErrors(err))
			return false
		}
	}
	return true
}
