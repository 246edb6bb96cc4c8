// Package httpapi exposes the auction house over REST. Callers identify
// themselves with the X-Caller-Address header; the engine enforces all
// authorization beyond that.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/tokenhall/auctionhouse/internal/app"
	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/services/auctionhouse"
	"github.com/tokenhall/auctionhouse/internal/app/services/marketplace"
	"github.com/tokenhall/auctionhouse/internal/app/services/tickets"
)

const callerHeader = "X-Caller-Address"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/auctions", h.startAuction).Methods(http.MethodPost)
	r.HandleFunc("/auctions", h.listAuctions).Methods(http.MethodGet)
	r.HandleFunc("/auctions/{id:[0-9]+}", h.getAuction).Methods(http.MethodGet)
	r.HandleFunc("/auctions/{id:[0-9]+}/items", h.getAuctionItems).Methods(http.MethodGet)
	r.HandleFunc("/auctions/{id:[0-9]+}/bids", h.placeBid).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{id:[0-9]+}/claim", h.claimAuction).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{id:[0-9]+}/refund", h.refundAuction).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{id:[0-9]+}/abandon", h.abandonAuction).Methods(http.MethodPost)
	r.HandleFunc("/auctions/withdrawals", h.withdrawProceeds).Methods(http.MethodPost)

	r.HandleFunc("/balances/{address}", h.getBalance).Methods(http.MethodGet)
	r.HandleFunc("/balances/withdraw", h.withdrawBalance).Methods(http.MethodPost)

	r.HandleFunc("/rewards", h.queryRewards).Methods(http.MethodGet)
	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)

	r.HandleFunc("/tickets/{holder}/{kind}", h.getTickets).Methods(http.MethodGet)
	r.HandleFunc("/tickets/mint", h.mintTickets).Methods(http.MethodPost)

	r.HandleFunc("/market/{contract}/prices", h.listPrices).Methods(http.MethodGet)
	r.HandleFunc("/market/{contract}/prices/{tokenID}", h.getPrice).Methods(http.MethodGet)
	r.HandleFunc("/market/{contract}/prices/{tokenID}", h.setPrice).Methods(http.MethodPut)
	r.HandleFunc("/market/{contract}/prices/{tokenID}", h.removePrice).Methods(http.MethodDelete)
	r.HandleFunc("/market/{contract}/purchases", h.buy).Methods(http.MethodPost)
	r.HandleFunc("/market/purchases", h.listPurchases).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) startAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Kind          string   `json:"kind"`
		TokenContract string   `json:"token_contract"`
		TokenIDs      []string `json:"token_ids"`
		Quantities    []int64  `json:"quantities"`
		StartingBid   int64    `json:"starting_bid"`
		Attached      int64    `json:"attached"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.app.Engine.Start(r.Context(), auctionhouse.StartRequest{
		Caller:        caller,
		Kind:          auction.Kind(payload.Kind),
		TokenContract: payload.TokenContract,
		TokenIDs:      payload.TokenIDs,
		Quantities:    payload.Quantities,
		StartingBid:   payload.StartingBid,
		Attached:      payload.Attached,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) listAuctions(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" {
		recs, err := h.app.Engine.ListAuctionsByStatus(r.Context(), auction.Status(status))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	recs, err := h.app.Engine.ListAuctions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) getAuction(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Engine.GetAuction(r.Context(), pathID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) getAuctionItems(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Engine.GetAuction(r.Context(), pathID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Items)
}

func (h *handler) placeBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Amount   int64 `json:"amount"`
		Attached int64 `json:"attached"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.app.Engine.Bid(r.Context(), caller, pathID(r), payload.Amount, payload.Attached)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) claimAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	rec, err := h.app.Engine.Claim(r.Context(), caller, pathID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) refundAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	rec, err := h.app.Engine.Refund(r.Context(), caller, pathID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) abandonAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	rec, err := h.app.Engine.Abandon(r.Context(), caller, pathID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) withdrawProceeds(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var payload struct {
		AuctionIDs []int64 `json:"auction_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	total, err := h.app.Engine.Withdraw(r.Context(), caller, payload.AuctionIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total": total})
}

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.app.Engine.Balance(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *handler) withdrawBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := h.app.Engine.WithdrawBalance(r.Context(), caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (h *handler) queryRewards(w http.ResponseWriter, r *http.Request) {
	bidder := r.URL.Query().Get("bidder")
	if bidder == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bidder is required"))
		return
	}

	var ids []int64
	for _, raw := range strings.Split(r.URL.Query().Get("auction_ids"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid auction id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	total, err := h.app.Engine.RewardsFor(r.Context(), bidder, ids)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"rewards": total})
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

func (h *handler) getTickets(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := h.app.Tickets.Balance(r.Context(), vars["holder"], vars["kind"])
	if err != nil {
		if errors.Is(err, tickets.ErrInvalidKind) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *handler) mintTickets(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !strings.EqualFold(caller, h.app.Config.Auction.Owner) {
		writeError(w, http.StatusForbidden, auctionhouse.ErrNotOwner)
		return
	}

	var payload struct {
		Holder string `json:"holder"`
		Kind   string `json:"kind"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Tickets.Mint(r.Context(), payload.Holder, payload.Kind, payload.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.app.Marketplace.ListPrices(r.Context(), mux.Vars(r)["contract"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	price, err := h.app.Marketplace.Price(r.Context(), vars["contract"], vars["tokenID"])
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (h *handler) setPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Price int64 `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	vars := mux.Vars(r)
	price, err := h.app.Marketplace.SetPrice(r.Context(), caller, vars["contract"], vars["tokenID"], payload.Price)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (h *handler) removePrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := h.app.Marketplace.RemovePrice(r.Context(), caller, vars["contract"], vars["tokenID"]); err != nil {
		writeMarketError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var payload struct {
		TokenIDs []string `json:"token_ids"`
		Attached int64    `json:"attached"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	purchase, err := h.app.Marketplace.Buy(r.Context(), caller, mux.Vars(r)["contract"], payload.TokenIDs, payload.Attached)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (h *handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	buyer := r.URL.Query().Get("buyer")
	if buyer == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("buyer is required"))
		return
	}
	purchases, err := h.app.Marketplace.Purchases(r.Context(), buyer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := strings.TrimSpace(r.Header.Get(callerHeader))
	if caller == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s header is required", callerHeader))
		return "", false
	}
	return caller, true
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// writeEngineError maps the engine's sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auctionhouse.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, auctionhouse.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, auctionhouse.ErrEmptyBatch),
		errors.Is(err, auctionhouse.ErrBatchTooLarge),
		errors.Is(err, auctionhouse.ErrLengthMismatch),
		errors.Is(err, auctionhouse.ErrInvalidQuantity),
		errors.Is(err, auctionhouse.ErrInvalidKind),
		errors.Is(err, auctionhouse.ErrStartPriceTooLow),
		errors.Is(err, auctionhouse.ErrInvalidValue),
		errors.Is(err, auctionhouse.ErrInvalidFeePercentage):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, auctionhouse.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, tickets.ErrInsufficientTickets):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, auctionhouse.ErrIsHighestBidder),
		errors.Is(err, auctionhouse.ErrNotHighestBidder),
		errors.Is(err, auctionhouse.ErrBidTooLow),
		errors.Is(err, auctionhouse.ErrAuctionEnded),
		errors.Is(err, auctionhouse.ErrAuctionActive),
		errors.Is(err, auctionhouse.ErrAuctionClaimed),
		errors.Is(err, auctionhouse.ErrAuctionRefunded),
		errors.Is(err, auctionhouse.ErrAuctionAbandoned),
		errors.Is(err, auctionhouse.ErrAuctionWithdrawn),
		errors.Is(err, auctionhouse.ErrAuctionNotClaimed),
		errors.Is(err, auctionhouse.ErrSettlementPeriodEnded),
		errors.Is(err, auctionhouse.ErrSettlementPeriodActive),
		errors.Is(err, auctionhouse.ErrAuctionIsApproved),
		errors.Is(err, auctionhouse.ErrTokenAlreadyInAuction),
		errors.Is(err, auctionhouse.ErrTokenNotOwned),
		errors.Is(err, auctionhouse.ErrNotEnoughSupply),
		errors.Is(err, auctionhouse.ErrNoBalanceToWithdraw):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeMarketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketplace.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, marketplace.ErrNotForSale):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, marketplace.ErrEmptyPurchase),
		errors.Is(err, marketplace.ErrInvalidPrice),
		errors.Is(err, marketplace.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, marketplace.ErrTokenInAuction):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, marketplace.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
