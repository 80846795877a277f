package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/validation"
)

const defaultIntentsLimit = 50

var errInvalidKey = fmt.Errorf("%w: intent key is required", model.ErrInvalidArgument)

type creditRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// CreditUser зачисляет средства на баланс пользователя.
func (h *Handler) CreditUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req creditRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.service.CreditUser(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(*t))
}

// ListOpenIntents возвращает намерения, ожидающие сверки оператором.
func (h *Handler) ListOpenIntents(w http.ResponseWriter, r *http.Request) {
	_, limit, err := validation.Page("", r.URL.Query().Get("limit"), defaultIntentsLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	intents, err := h.service.ListOpenIntents(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]intentResponse, 0, len(intents))
	for _, in := range intents {
		resp = append(resp, newIntentResponse(in))
	}
	writeJSON(w, http.StatusOK, resp)
}

type reconcileRequest struct {
	ProviderOrderID string `json:"providerOrderId"`
}

// ReconcileIntent закрывает намерение по решению оператора.
func (h *Handler) ReconcileIntent(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		h.writeError(w, r, errInvalidKey)
		return
	}

	var req reconcileRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}

	in, err := h.service.ReconcileIntent(r.Context(), key, req.ProviderOrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentResponse(*in))
}
