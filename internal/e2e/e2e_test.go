package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/migration"
	"github.com/smallbiznis/orderflow/internal/observability"
	"github.com/smallbiznis/orderflow/internal/server"
	"github.com/smallbiznis/orderflow/pkg/db"
)

const (
	adminKey   = "e2e-admin-key"
	webhookKey = "e2e-webhook-key"
)

type testEnv struct {
	app     *fx.App
	server  *server.Server
	db      *gorm.DB
	baseURL string
	httpSrv *httptest.Server
	dir     string
}

var (
	env     *testEnv
	counter atomic.Int64
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "orderflow-e2e-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create temp dir:", err)
		os.Exit(1)
	}
	if err := setDefaultEnv(dir); err != nil {
		fmt.Fprintln(os.Stderr, "failed to prepare environment:", err)
		os.Exit(1)
	}

	env, err = startEnv(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_DemoCatalogSeeded(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/api/products", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var list struct {
		Data []struct {
			Code      string `json:"code"`
			Available int64  `json:"available"`
		} `json:"data"`
	}
	decode(t, body, &list)
	found := false
	for _, p := range list.Data {
		if p.Code == "kopi-susu-gula-aren" {
			found = true
			if p.Available <= 0 {
				t.Fatalf("expected seeded stock, got %d", p.Available)
			}
		}
	}
	if !found {
		t.Fatalf("seeded product missing from %s", string(body))
	}
}

func TestE2E_CheckoutPaymentAndFulfilment(t *testing.T) {
	productID := createProduct(t, 250_000, 10)
	promo := createPromotion(t, 20)
	user := nextUser()

	checkoutReq := map[string]any{
		"items":          []map[string]any{{"product_id": productID, "quantity": 4}},
		"promotion_code": strings.ToLower(promo),
		"payment_method": "bank_transfer",
	}
	headers := map[string]string{
		server.HeaderUserID:         user,
		server.HeaderIdempotencyKey: "checkout-" + user,
	}

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/checkout", checkoutReq, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for checkout, got %d: %s", resp.StatusCode, string(body))
	}
	var created struct {
		Data struct {
			OrderID string `json:"order_id"`
			Total   int64  `json:"total"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	decode(t, body, &created)
	if created.Data.Total != 815_000 {
		t.Fatalf("expected total 815000, got %d", created.Data.Total)
	}
	if created.Data.Status != "awaiting_payment" {
		t.Fatalf("expected awaiting_payment, got %s", created.Data.Status)
	}
	orderID := created.Data.OrderID

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/checkout", checkoutReq, headers)
	if resp.StatusCode != http.StatusOK || resp.Header.Get(server.HeaderReplayed) != "true" {
		t.Fatalf("expected replayed checkout, got %d %q: %s", resp.StatusCode, resp.Header.Get(server.HeaderReplayed), string(body))
	}
	if got := availableStock(t, productID); got != 6 {
		t.Fatalf("expected stock 6 after one order, got %d", got)
	}

	event := map[string]any{
		"referenceText": "TRF BCA ORDER " + orderID,
		"amount":        815_000,
		"direction":     "credit",
		"eventId":       "bank-" + orderID,
	}
	hook := map[string]string{server.HeaderWebhookKey: webhookKey}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/payments/webhook", event, hook)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"outcome":"confirmed"`) {
		t.Fatalf("expected confirmed reconciliation, got %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/payments/webhook", event, hook)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"outcome":"already_processed"`) {
		t.Fatalf("expected already_processed on redelivery, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/orders/"+orderID+"/cancel", nil, map[string]string{server.HeaderUserID: user})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected paid order cancel to conflict, got %d: %s", resp.StatusCode, string(body))
	}

	admin := map[string]string{server.HeaderAdminKey: adminKey}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/admin/orders/"+orderID+"/transition", map[string]any{"status": "shipping"}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected shipping transition, got %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/admin/orders/"+orderID+"/transition", map[string]any{"status": "pending"}, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected illegal transition to conflict, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/admin/orders/"+orderID+"/history", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected history, got %d: %s", resp.StatusCode, string(body))
	}
	var history struct {
		Data []struct {
			ToStatus string `json:"to_status"`
		} `json:"data"`
	}
	decode(t, body, &history)
	if len(history.Data) < 2 || history.Data[len(history.Data)-1].ToStatus != "shipping" {
		t.Fatalf("unexpected history: %s", string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/admin/audit-logs?action=order.transition&target_id="+orderID, nil, admin)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"to_status":"shipping"`) {
		t.Fatalf("expected audited transition, got %d: %s", resp.StatusCode, string(body))
	}

	req, err := http.NewRequest(http.MethodGet, env.baseURL+"/api/orders/"+orderID+"/receipt", nil)
	if err != nil {
		t.Fatalf("build receipt request: %v", err)
	}
	req.Header.Set(server.HeaderUserID, user)
	receipt, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("receipt request failed: %v", err)
	}
	defer receipt.Body.Close()
	pdfBody, _ := io.ReadAll(receipt.Body)
	if receipt.StatusCode != http.StatusOK || !bytes.HasPrefix(pdfBody, []byte("%PDF")) {
		t.Fatalf("expected pdf receipt, got %d (%d bytes)", receipt.StatusCode, len(pdfBody))
	}
}

func TestE2E_ConcurrentCheckoutsDoNotOversell(t *testing.T) {
	productID := createProduct(t, 50_000, 3)

	var created, outOfStock atomic.Int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		user := nextUser()
		g.Go(func() error {
			resp, body := doJSONNoFatal(http.MethodPost, env.baseURL+"/api/checkout", map[string]any{
				"items":          []map[string]any{{"product_id": productID, "quantity": 1}},
				"payment_method": "cod",
			}, map[string]string{server.HeaderUserID: user})
			if resp == nil {
				return fmt.Errorf("checkout request failed: %s", body)
			}
			switch resp.StatusCode {
			case http.StatusCreated:
				created.Add(1)
			case http.StatusConflict:
				outOfStock.Add(1)
			default:
				return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if created.Load() != 3 || outOfStock.Load() != 5 {
		t.Fatalf("expected 3 created and 5 out of stock, got %d and %d", created.Load(), outOfStock.Load())
	}
	if got := availableStock(t, productID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestE2E_CancelReleasesStock(t *testing.T) {
	productID := createProduct(t, 75_000, 5)
	user := nextUser()

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/checkout", map[string]any{
		"items":          []map[string]any{{"product_id": productID, "quantity": 2}},
		"payment_method": "cod",
	}, map[string]string{server.HeaderUserID: user})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected checkout, got %d: %s", resp.StatusCode, string(body))
	}
	var created struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	decode(t, body, &created)

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/orders/"+created.Data.OrderID+"/cancel", nil, map[string]string{server.HeaderUserID: nextUser()})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected other user's cancel to be not found, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/orders/"+created.Data.OrderID+"/cancel", map[string]any{"reason": "changed mind"}, map[string]string{server.HeaderUserID: user})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected cancel, got %d: %s", resp.StatusCode, string(body))
	}
	if got := availableStock(t, productID); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
}

func TestE2E_AdminAuthorization(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/admin/payments/events", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/admin/payments/events?review_only=true", nil, map[string]string{server.HeaderAdminKey: adminKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", resp.StatusCode, string(body))
	}
}

func startEnv(dir string) (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		cfg    config.Config
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		migration.Module,
		server.Module,
		fx.Populate(&srv, &dbConn, &cfg),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.DBType)), "sqlite") {
		_ = app.Stop(context.Background())
		return nil, fmt.Errorf("expected sqlite db, got %s", cfg.DBType)
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:     app,
		server:  srv,
		db:      dbConn,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
		dir:     dir,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.dir != "" {
		_ = os.RemoveAll(e.dir)
	}
}

func setDefaultEnv(dir string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	if err != nil {
		return err
	}
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("OTEL_ENABLED", "false")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite-pure")
	setEnvIfEmpty("DATABASE_NAME", filepath.Join(dir, "orderflow.db"))
	setEnvIfEmpty("REDIS_ENABLED", "false")
	setEnvIfEmpty("SEED_DEMO_DATA", "true")
	_ = os.Setenv("ADMIN_API_KEY_HASH", string(hash))
	_ = os.Setenv("PAYMENT_WEBHOOK_KEY", webhookKey)
	return nil
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func nextUser() string {
	return fmt.Sprintf("e2e-user-%d", counter.Add(1))
}

func createProduct(t *testing.T, price, stock int64) string {
	t.Helper()

	code := fmt.Sprintf("e2e-product-%d", counter.Add(1))
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/admin/products", map[string]any{
		"code":          code,
		"name":          "E2E " + code,
		"price":         price,
		"initial_stock": stock,
	}, map[string]string{server.HeaderAdminKey: adminKey})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for product, got %d: %s", resp.StatusCode, string(body))
	}

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decode(t, body, &created)
	if created.Data.ID == "" {
		t.Fatalf("product id missing: %s", string(body))
	}
	return created.Data.ID
}

func createPromotion(t *testing.T, percent int64) string {
	t.Helper()

	code := fmt.Sprintf("E2E%d", counter.Add(1))
	limit := int64(10)
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/admin/promotions", map[string]any{
		"code":          code,
		"discount_type": "percentage",
		"value":         percent,
		"usage_limit":   limit,
	}, map[string]string{server.HeaderAdminKey: adminKey})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for promotion, got %d: %s", resp.StatusCode, string(body))
	}
	return code
}

func availableStock(t *testing.T, productID string) int64 {
	t.Helper()

	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/api/products/"+productID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected product, got %d: %s", resp.StatusCode, string(body))
	}
	var product struct {
		Data struct {
			Available int64 `json:"available"`
		} `json:"data"`
	}
	decode(t, body, &product)
	return product.Data.Available
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode response %s: %v", string(body), err)
	}
}

func doJSON(t *testing.T, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	resp, data := doJSONNoFatal(method, reqURL, payload, headers)
	if resp == nil {
		t.Fatalf("request failed: %s", data)
	}
	return resp, data
}

func doJSONNoFatal(method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, []byte(err.Error())
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		return nil, []byte(err.Error())
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, []byte(err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, []byte(err.Error())
	}
	return resp, data
}
