package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/cart"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/mw"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/go-chi/chi/v5"
)

// openCart restores the caller's saved basket. Each request works on its own
// Cart; the snapshot store is the only shared state.
func (h *Handler) openCart(ctx context.Context, owner string) (*cart.Cart, cart.RestoreResult, error) {
	c := cart.New(owner, cart.Options{
		TaxRate:   h.TaxRate,
		TTL:       h.CartTTL,
		Validator: h.Validator,
		Store:     h.Carts,
		Logger:    h.Log,
	})
	rr, err := c.Restore(ctx)
	return c, rr, err
}

func (h *Handler) withCart(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, c *cart.Cart) (cartResp, error)) {
	user, _ := mw.UserFromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, rr, err := h.openCart(ctx, user.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	resp, err := fn(ctx, c)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	resp.Expired = rr.Expired
	resp.Dropped = rr.Dropped
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) saved(ctx context.Context, c *cart.Cart) (cartResp, error) {
	if err := c.Save(ctx); err != nil {
		return cartResp{}, err
	}
	return toCartResp(c, cart.RestoreResult{}), nil
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(ctx context.Context, c *cart.Cart) (cartResp, error) {
		return toCartResp(c, cart.RestoreResult{}), nil
	})
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing product_id"})
		return
	}
	h.withCart(w, r, func(ctx context.Context, c *cart.Cart) (cartResp, error) {
		p, err := h.Catalog.GetProduct(ctx, req.ProductID)
		if err != nil {
			return cartResp{}, err
		}
		added, err := c.AddItem(p, req.Quantity, req.Options)
		if err != nil {
			return cartResp{}, err
		}
		resp, err := h.saved(ctx, c)
		resp.Clamped = added.Clamped
		return resp, err
	})
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quantity int `json:"quantity"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "productID")
	h.withCart(w, r, func(ctx context.Context, c *cart.Cart) (cartResp, error) {
		if err := c.UpdateQuantity(id, body.Quantity); err != nil {
			return cartResp{}, err
		}
		return h.saved(ctx, c)
	})
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	h.withCart(w, r, func(ctx context.Context, c *cart.Cart) (cartResp, error) {
		if !c.RemoveItem(id) {
			return cartResp{}, apperr.ErrNotFound
		}
		return h.saved(ctx, c)
	})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	if err := h.Carts.DeleteSnapshot(r.Context(), user.ID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkout turns the saved basket into an order and empties the basket once the
// order is stored.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	user, _ := mw.UserFromContext(r.Context())
	var req checkoutReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = r.Header.Get("Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, _, err := h.openCart(ctx, user.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	lines, err := c.CheckoutLines()
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.placeOrder(ctx, w, user, orders.CreateOrderInput{
		ExternalID:   req.ExternalID,
		CustomerID:   user.ID,
		Lines:        lines,
		Credits:      req.Credits,
		ReferralCode: req.ReferralCode,
		Notes:        req.Notes,
	}, func(ctx context.Context) {
		if err := h.Carts.DeleteSnapshot(ctx, user.ID); err != nil {
			h.Log.Warn("cart clear after checkout failed", "user", user.ID, "error", err)
		}
	})
}
