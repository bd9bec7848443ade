package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
)

type queryHandler struct {
	q       Querier
	timeout time.Duration
}

func (h *queryHandler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

// positionResponse adds the derived market value to a position
type positionResponse struct {
	portfolio.Position
	MarketValue string `json:"market_value"`
}

func (h *queryHandler) listAccounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	accts, err := h.q.Accounts(ctx, "")
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, accts)
}

func (h *queryHandler) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	accts, err := h.q.Accounts(ctx, chi.URLParam(r, "account"))
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, accts[0])
}

func (h *queryHandler) listPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	positions, err := h.q.Positions(ctx, chi.URLParam(r, "account"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{Position: p, MarketValue: p.MarketValue().String()})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *queryHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	cancelable := false
	if v := r.URL.Query().Get("cancelable"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "cancelable must be a boolean")
			return
		}
		cancelable = b
	}

	orders, err := h.q.Orders(ctx, chi.URLParam(r, "account"), cancelable)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, orders)
}

func (h *queryHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "client_id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "client_id must be a positive integer")
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	o, err := h.q.Order(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}
