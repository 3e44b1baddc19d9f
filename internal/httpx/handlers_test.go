package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/cart"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/mw"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/referral"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "handler-test-secret"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
func intp(n int) *int { return &n }

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	ledger *credit.MemoryLedger
	repo   *orders.MemoryRepo
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog := pricing.NewMemoryCatalog(
		pricing.Product{ID: "boost", Name: "Level boost", Type: pricing.ProductService, BasePrice: dec("10.00"), SalePrice: decp("8.00"), MaxQuantity: intp(5), Active: true},
		pricing.Product{ID: "medals", Name: "Medals", Type: pricing.ProductCustomItem, BasePrice: dec("1"), PricePerUnit: decp("0.50"), MinQuantity: 10, Active: true},
		pricing.Product{ID: "retired", Name: "Retired", Type: pricing.ProductBundle, BasePrice: dec("99"), Active: false},
	)
	validator := pricing.NewValidator(catalog, nil)
	ledger := credit.NewMemoryLedger()
	attributor := referral.NewAttributor(referral.NewMemoryStore(), ledger, dec("0.05"), nil)
	repo := orders.NewMemoryRepo()
	manager := orders.NewManager(orders.Config{
		Repo:      repo,
		Validator: validator,
		Ledger:    ledger,
		Accruer:   attributor,
		ClientIP:  ClientIP,
		TaxRate:   dec("0.08"),
	})

	h := &Handler{
		Catalog:   catalog,
		Validator: validator,
		Orders:    manager,
		Credits:   ledger,
		Referrals: attributor,
		Carts:     cart.NewMemoryStore(),
		Redis:     rdb,
		TaxRate:   dec("0.08"),
	}
	r := NewRouter(nil)
	h.Register(r, mw.AuthMiddleware(jwtSecret))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, ledger: ledger, repo: repo, mr: mr}
}

func (s *testServer) do(method, path, user, role string, body any) (*http.Response, map[string]any) {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(s.t, err)
	if user != "" {
		tok, err := mw.IssueToken(jwtSecret, user, role)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *testServer) doList(path, user, role string) (*http.Response, []map[string]any) {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+path, nil)
	require.NoError(s.t, err)
	if user != "" {
		tok, err := mw.IssueToken(jwtSecret, user, role)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	var out []map[string]any
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestListProducts(t *testing.T) {
	s := newTestServer(t)
	resp, list := s.doList("/products", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 2)
	assert.Equal(t, "Level boost", list[0]["name"])
	assert.Equal(t, "8.00", list[0]["price"])
	assert.Equal(t, "0.50", list[1]["price"])
}

func TestQuote(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(http.MethodPost, "/cart/quote", "", "", map[string]any{
		"items": []map[string]any{
			{"product_id": "boost", "quantity": 3, "product_type": "bundle"},
			{"product_id": "retired", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "24.00", body["subtotal"])
	assert.Equal(t, "1.92", body["tax"])
	assert.Equal(t, "25.92", body["total"])

	lines := body["lines"].([]any)
	require.Len(t, lines, 1)
	assert.Equal(t, "service", lines[0].(map[string]any)["product_type"])
	invalid := body["invalid"].([]any)
	require.Len(t, invalid, 1)
	assert.Equal(t, string(pricing.ReasonInactive), invalid[0].(map[string]any)["reason"])
}

func TestOrdersRequireAuth(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(http.MethodGet, "/orders", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateOrderIdempotent(t *testing.T) {
	s := newTestServer(t)
	req := map[string]any{
		"external_id": "ext-1",
		"items":       []map[string]any{{"product_id": "boost", "quantity": 3}},
	}
	resp, body := s.do(http.MethodPost, "/orders", "u1", "", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "25.92", order["total_amount"])
	assert.Equal(t, "pending", order["status"])
	id := order["id"].(string)

	stored, err := s.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", stored.Metadata["client_ip"])

	resp, body = s.do(http.MethodPost, "/orders", "u1", "", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["idempotent"])
	assert.Equal(t, id, body["order"].(map[string]any)["id"])

	resp, _ = s.do(http.MethodPost, "/orders", "u2", "", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	list, err := s.repo.ListByCustomer(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateOrderErrors(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(http.MethodPost, "/orders", "u1", "", map[string]any{
		"items": []map[string]any{{"product_id": "retired", "quantity": 1}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/orders", "u1", "", map[string]any{
		"items":   []map[string]any{{"product_id": "boost", "quantity": 1}},
		"credits": "5.00",
	})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/orders", "u1", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrderLifecycleWithReferral(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(http.MethodPost, "/referrals/code", "ref1", "", map[string]any{"code": "friend"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "FRIEND", body["code"])

	resp, _ = s.do(http.MethodPost, "/credits/u1/grant", "u1", "", map[string]any{"amount": "5.00"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, body = s.do(http.MethodPost, "/credits/u1/grant", "admin", mw.RoleAdmin, map[string]any{"amount": "5.00"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5.00", body["balance"])

	resp, body = s.do(http.MethodPost, "/orders", "u1", "", map[string]any{
		"items":         []map[string]any{{"product_id": "boost", "quantity": 3}},
		"credits":       "5.00",
		"referral_code": "friend",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "5.00", order["credits_used"])
	assert.Equal(t, "20.92", order["total_amount"])
	id := order["id"].(string)

	_, body = s.do(http.MethodGet, "/credits/me", "u1", "", nil)
	assert.Equal(t, "0.00", body["balance"])

	// customers cannot drive the workflow
	resp, _ = s.do(http.MethodPatch, "/orders/"+id+"/status", "u1", "", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(http.MethodPatch, "/orders/"+id+"/status", "admin", mw.RoleAdmin, map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "payment_status", body["field"])

	resp, _ = s.do(http.MethodPatch, "/orders/"+id+"/payment", "admin", mw.RoleAdmin, map[string]any{"payment_status": "paid", "payment_ref": "pi_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(http.MethodPatch, "/orders/"+id+"/progress", "admin", mw.RoleAdmin, map[string]any{"progress": 40})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(http.MethodPatch, "/orders/"+id+"/status", "admin", mw.RoleAdmin, map[string]any{"status": "completed", "note": "done"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "fulfilled", body["fulfillment_status"])
	assert.EqualValues(t, 100, body["progress"])
	assert.NotNil(t, body["completed_at"])
	assert.Len(t, body["status_history"], 2)

	resp, body = s.do(http.MethodGet, "/orders/"+id+"/status", "u1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "paid", body["payment_status"])

	resp, body = s.do(http.MethodGet, "/referrals/me/stats", "ref1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FRIEND", body["code"])
	assert.EqualValues(t, 1, body["total_referred"])
	assert.Equal(t, "1.05", body["total_earned"])
	assert.Equal(t, "0.00", body["pending_earnings"])
	assert.Equal(t, "1.05", body["credit_balance"])

	resp, _ = s.do(http.MethodPatch, "/orders/"+id+"/status", "admin", mw.RoleAdmin, map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestOrderVisibility(t *testing.T) {
	s := newTestServer(t)
	_, body := s.do(http.MethodPost, "/orders", "u1", "", map[string]any{
		"items": []map[string]any{{"product_id": "medals", "quantity": 20}},
	})
	id := body["order"].(map[string]any)["id"].(string)
	assert.Equal(t, "custom", body["order"].(map[string]any)["order_type"])

	resp, _ := s.do(http.MethodGet, "/orders/"+id, "u2", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/orders/"+id+"/status", "u2", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/orders/"+id+"/notes", "u1", "", map[string]any{"note": "evenings please"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = s.do(http.MethodPost, "/orders/"+id+"/notes", "admin", mw.RoleAdmin, map[string]any{"note": "vip"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "evenings please", body["notes"])
	assert.Equal(t, "vip", body["admin_notes"])

	_, body = s.do(http.MethodGet, "/orders/"+id, "u1", "", nil)
	assert.Nil(t, body["admin_notes"])

	_, list := s.doList("/orders", "u1", "")
	assert.Len(t, list, 1)
	_, list = s.doList("/orders?customer_id=u1", "admin", mw.RoleAdmin)
	assert.Len(t, list, 1)
	_, list = s.doList("/orders?customer_id=u1", "u2", "")
	assert.Empty(t, list)

	resp, _ = s.do(http.MethodDelete, "/orders/"+id, "admin", mw.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/orders/"+id, "u1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCartCheckout(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(http.MethodPost, "/cart/checkout", "u1", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := s.do(http.MethodPost, "/cart/items", "u1", "", map[string]any{"product_id": "boost", "quantity": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "24.00", body["subtotal"])

	resp, body = s.do(http.MethodPost, "/cart/items", "u1", "", map[string]any{"product_id": "boost", "quantity": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["clamped"])
	assert.Equal(t, "40.00", body["subtotal"])

	resp, _ = s.do(http.MethodPost, "/cart/items", "u1", "", map[string]any{"product_id": "medals", "quantity": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp, _ = s.do(http.MethodPost, "/cart/items", "u1", "", map[string]any{"product_id": "nope", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(http.MethodPatch, "/cart/items/boost", "u1", "", map[string]any{"quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "16.00", body["subtotal"])
	assert.Equal(t, "1.28", body["tax"])
	assert.Equal(t, "17.28", body["total"])

	resp, body = s.do(http.MethodPost, "/cart/checkout", "u1", "", map[string]any{"external_id": "cart-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "17.28", body["order"].(map[string]any)["total_amount"])

	resp, body = s.do(http.MethodGet, "/cart", "u1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["lines"])
	assert.Equal(t, "0.00", body["total"])
}

func TestCartRemoveAndClear(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/cart/items", "u1", "", map[string]any{"product_id": "boost", "quantity": 1})
	s.do(http.MethodPost, "/cart/items", "u1", "", map[string]any{"product_id": "medals", "quantity": 10})

	resp, body := s.do(http.MethodDelete, "/cart/items/boost", "u1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["lines"], 1)
	resp, _ = s.do(http.MethodDelete, "/cart/items/boost", "u1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodDelete, "/cart", "u1", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = s.do(http.MethodGet, "/cart", "u1", "", nil)
	assert.Empty(t, body["lines"])
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
