package exchange

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"arbengine/internal/config"
	"arbengine/pkg/types"
)

func dec(s string) types.Money {
	d, _ := decimal.NewFromString(s)
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDryRunClient() *Client {
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: testLogger(),
	}
}

func testLegs() []types.Leg {
	return []types.Leg{
		{TokenId: "tok1", Side: types.Buy, Price: dec("0.50"), Size: dec("10")},
		{TokenId: "tok2", Side: types.Buy, Price: dec("0.45"), Size: dec("10")},
	}
}

func TestDryRunSubmitOrders(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	results, err := c.SubmitOrders(context.Background(), testLegs(), Tick001)
	if err != nil {
		t.Fatalf("SubmitOrders: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if !r.Success {
			t.Errorf("result[%d].Success = false, want true", i)
		}
		if r.OrderId == "" {
			t.Errorf("result[%d].OrderId is empty", i)
		}
		if r.Status != "live" {
			t.Errorf("result[%d].Status = %q, want \"live\"", i, r.Status)
		}
	}
}

func TestDryRunSubmitOrdersEmpty(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	results, err := c.SubmitOrders(context.Background(), nil, Tick001)
	if err != nil {
		t.Fatalf("SubmitOrders: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil for empty legs, got %v", results)
	}
}

func TestSubmitOrdersRejectsOverBatchLimit(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	c.dryRun = false

	legs := make([]types.Leg, 16)
	for i := range legs {
		legs[i] = types.Leg{TokenId: "tok", Side: types.Buy, Price: dec("0.5"), Size: dec("1")}
	}

	if _, err := c.SubmitOrders(context.Background(), legs, Tick001); err == nil {
		t.Fatal("expected error for batch over 15 orders")
	}
}

func TestDryRunCancelOrders(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelOrders(context.Background(), []string{"order-1", "order-2"})
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if len(resp.Canceled) != 2 {
		t.Errorf("expected 2 canceled, got %d", len(resp.Canceled))
	}
}

func TestDryRunCancelOrdersEmpty(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelOrders(context.Background(), nil)
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if len(resp.Canceled) != 0 {
		t.Errorf("expected 0 canceled, got %d", len(resp.Canceled))
	}
}

func TestDryRunCancelAll(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelAll(context.Background())
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if resp == nil {
		t.Fatal("expected non-nil response")
	}
}

func TestDryRunCancelMarketOrders(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelMarketOrders(context.Background(), "market-123")
	if err != nil {
		t.Fatalf("CancelMarketOrders: %v", err)
	}
	if resp == nil {
		t.Fatal("expected non-nil response")
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{DryRun: true, API: config.APIConfig{CLOBBaseURL: "http://localhost"}}
	auth := &Auth{}
	c := NewClient(cfg, auth, testLogger())

	if !c.dryRun {
		t.Error("client.dryRun should be true when config.DryRun is true")
	}
}

func TestBuildOrderPayloadSetsMakerAndSigner(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey:    "0x1111111111111111111111111111111111111111111111111111111111111111",
			ChainID:       137,
			SignatureType: 0,
		},
		API: config.APIConfig{
			CLOBBaseURL: "http://localhost",
			ApiKey:      "test-key",
			Secret:      "test-secret",
			Passphrase:  "test-pass",
		},
	}

	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	c := NewClient(cfg, auth, testLogger())
	payload := c.buildOrderPayload(types.Leg{TokenId: "tok1", Side: types.Buy, Price: dec("0.55"), Size: dec("10")}, Tick001, 0)

	if payload.Order.Maker != auth.FunderAddress().Hex() {
		t.Errorf("maker = %q, want funder address", payload.Order.Maker)
	}
	if payload.Order.Signer != auth.Address().Hex() {
		t.Errorf("signer = %q, want eoa address", payload.Order.Signer)
	}
	if payload.Order.TokenID != "tok1" {
		t.Errorf("tokenId = %q, want tok1", payload.Order.TokenID)
	}
	if payload.Owner != "test-key" {
		t.Errorf("owner = %q, want test-key", payload.Owner)
	}
}
