package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/cart"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/mw"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/redisx"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/referral"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type Catalog interface {
	GetProduct(ctx context.Context, id string) (pricing.Product, error)
	ListProducts(ctx context.Context) ([]pricing.Product, error)
}

type Handler struct {
	Catalog   Catalog
	Validator cart.Validator
	Orders    *orders.Manager
	Credits   credit.Ledger
	Referrals *referral.Attributor
	Carts     cart.SnapshotStore
	Redis     *redis.Client // optional; idempotency shortcut and status cache
	TaxRate   decimal.Decimal
	CartTTL   time.Duration
	Log       *slog.Logger
}

func (h *Handler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	if h.Log == nil {
		h.Log = slog.Default()
	}
	r.Get("/products", h.listProducts)
	r.Post("/cart/quote", h.quote)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Get("/cart", h.getCart)
		r.Post("/cart/items", h.addCartItem)
		r.Patch("/cart/items/{productID}", h.updateCartItem)
		r.Delete("/cart/items/{productID}", h.removeCartItem)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/checkout", h.checkout)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Post("/orders/{id}/notes", h.addNote)

		r.Get("/credits/me", h.myCredits)
		r.Get("/referrals/me/stats", h.myReferralStats)
		r.Post("/referrals/code", h.registerCode)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdmin)
			r.Patch("/orders/{id}/status", h.updateStatus)
			r.Patch("/orders/{id}/payment", h.updatePayment)
			r.Patch("/orders/{id}/progress", h.updateProgress)
			r.Delete("/orders/{id}", h.deleteOrder)
			r.Post("/credits/{userID}/grant", h.grantCredits)
		})
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]productDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing items"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Validator.Validate(ctx, req.Items)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	sub := res.Subtotal()
	tax := pricing.Tax(sub, h.TaxRate)
	resp := quoteResp{
		Lines:    make([]lineDTO, 0, len(res.Lines)),
		Invalid:  res.Invalid,
		Subtotal: money(sub),
		Tax:      money(tax),
		Total:    money(sub.Add(tax)),
	}
	for _, l := range res.Lines {
		resp.Lines = append(resp.Lines, lineDTO{
			ProductID: l.ProductID,
			Name:      l.Product.Name,
			Type:      l.Type,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			Total:     money(l.TotalPrice),
			Options:   l.Options,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	var req createOrderReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = r.Header.Get("Idempotency-Key")
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing items"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.placeOrder(ctx, w, user, orders.CreateOrderInput{
		ExternalID:   req.ExternalID,
		CustomerID:   user.ID,
		Type:         req.OrderType,
		Lines:        req.Items,
		Credits:      req.Credits,
		ReferralCode: req.ReferralCode,
		Notes:        req.Notes,
	}, nil)
}

// placeOrder is shared by direct order creation and cart checkout. onCreated
// runs only for a freshly inserted order.
func (h *Handler) placeOrder(ctx context.Context, w http.ResponseWriter, user mw.User, in orders.CreateOrderInput, onCreated func(context.Context)) {
	var idemKey string
	if in.ExternalID != "" && h.Redis != nil {
		idemKey = fmt.Sprintf(redisx.KeyIdemOrderCreate, in.ExternalID)
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			if o, err := h.Orders.Get(ctx, id); err == nil {
				h.respondExisting(w, user, o)
				return
			}
		}
	}

	res, err := h.Orders.CreateOrder(ctx, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if res.Existing {
		h.respondExisting(w, user, res.Order)
		return
	}
	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, res.Order.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(ctx, res.Order)
	if onCreated != nil {
		onCreated(ctx)
	}
	writeJSON(w, http.StatusCreated, createOrderResp{Order: toOrderDTO(res.Order, user.IsAdmin()), Warnings: res.Warnings})
}

func (h *Handler) respondExisting(w http.ResponseWriter, user mw.User, o orders.Order) {
	if o.CustomerID != user.ID {
		writeJSON(w, http.StatusConflict, errorBody{Error: "external_id already used"})
		return
	}
	writeJSON(w, http.StatusOK, createOrderResp{Order: toOrderDTO(o, user.IsAdmin()), Idempotent: true})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	customer := user.ID
	if c := r.URL.Query().Get("customer_id"); c != "" && user.IsAdmin() {
		customer = c
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = n
	}

	list, err := h.Orders.ListByCustomer(r.Context(), customer, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]orderDTO, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderDTO(o, user.IsAdmin()))
	}
	writeJSON(w, http.StatusOK, out)
}

// loadOrder hides orders the caller does not own behind a 404.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (orders.Order, mw.User, bool) {
	user, _ := mw.UserFromContext(r.Context())
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && o.CustomerID != user.ID && !user.IsAdmin() {
		err = apperr.ErrNotFound
	}
	if err != nil {
		writeError(w, h.Log, err)
		return orders.Order{}, user, false
	}
	return o, user, true
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, user, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o, user.IsAdmin()))
}

func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if h.Redis != nil {
		if s, err := h.Redis.Get(r.Context(), fmt.Sprintf(redisx.KeyOrderStatus, id)).Result(); err == nil {
			var v orderStatusView
			if json.Unmarshal([]byte(s), &v) == nil && (v.CustomerID == user.ID || user.IsAdmin()) {
				writeJSON(w, http.StatusOK, v)
				return
			}
		}
	}

	o, _, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, statusView(o))
}

func statusView(o orders.Order) orderStatusView {
	return orderStatusView{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Progress:      o.Progress,
	}
}

func (h *Handler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(statusView(o))
	if err != nil {
		return
	}
	if err := h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err(); err != nil {
		h.Log.Warn("status cache write failed", "order", o.ID, "error", err)
	}
}

func (h *Handler) dropStatus(ctx context.Context, id string) {
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, id)).Err()
	}
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), orders.Status(strings.ToLower(string(req.Status))),
		orders.StatusUpdate{Note: req.Note, Override: req.Override})
	h.respondMutation(w, r, o, err)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.Orders.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), req.PaymentStatus, req.PaymentRef)
	h.respondMutation(w, r, o, err)
}

func (h *Handler) updateProgress(w http.ResponseWriter, r *http.Request) {
	var req progressReq
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.Orders.UpdateProgress(r.Context(), chi.URLParam(r, "id"), req.Progress)
	h.respondMutation(w, r, o, err)
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var req noteReq
	if !decodeJSON(w, r, &req) {
		return
	}
	cur, user, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	o, err := h.Orders.AddNote(r.Context(), cur.ID, req.Note, user.IsAdmin())
	h.respondMutation(w, r, o, err)
}

func (h *Handler) respondMutation(w http.ResponseWriter, r *http.Request, o orders.Order, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	user, _ := mw.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, toOrderDTO(o, user.IsAdmin()))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Orders.SoftDelete(r.Context(), id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.dropStatus(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) myCredits(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	bal, err := h.Credits.GetBalance(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResp{UserID: user.ID, Balance: money(bal)})
}

func (h *Handler) grantCredits(w http.ResponseWriter, r *http.Request) {
	var req amountReq
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	bal, err := h.Credits.Credit(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info("credits granted", "user", userID, "amount", req.Amount.StringFixed(2))
	writeJSON(w, http.StatusOK, balanceResp{UserID: userID, Balance: money(bal)})
}

func (h *Handler) myReferralStats(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	code, err := h.Referrals.CodeOf(r.Context(), user.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		writeError(w, h.Log, err)
		return
	}
	st, err := h.Referrals.GetStats(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReferralStats(code, st))
}

func (h *Handler) registerCode(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	var req codeReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	code, err := h.Referrals.RegisterCode(r.Context(), user.ID, req.Code)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, codeReq{Code: code})
}
