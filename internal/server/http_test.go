package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gopiinho/stablecoin/internal/engine"
	"github.com/gopiinho/stablecoin/internal/fpmath"
	"github.com/gopiinho/stablecoin/internal/observability"
	"github.com/gopiinho/stablecoin/internal/oracle"
	"github.com/gopiinho/stablecoin/internal/server"
	"github.com/gopiinho/stablecoin/internal/token"
)

type testServer struct {
	router   http.Handler
	eng      *engine.Engine
	wethAuth *token.Authority
	wethFeed *oracle.StaticFeed
	dsc      *token.Ledger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	weth, wethAuth := token.NewLedger("Wrapped Ether", "WETH")
	wethFeed := oracle.NewStaticFeed("WETH", 8, big.NewInt(2000_0000_0000), now)
	dsc, authority := token.NewLedger("Decentralized Stable Coin", "DSC")

	eng, err := engine.New(engine.Config{
		CollateralAssets: []token.Asset{weth},
		PriceFeeds:       []oracle.PriceFeed{wethFeed},
		Synthetic:        dsc,
		Authority:        authority,
		Guard:            &oracle.Guard{Now: func() time.Time { return now }},
		Logger:           zerolog.Nop(),
		Now:              func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)
	srv := server.New(eng, health, nil, zerolog.Nop()).
		WithCollateralFunding(map[string]*token.Authority{"WETH": wethAuth})

	return &testServer{
		router:   srv.Router(),
		eng:      eng,
		wethAuth: wethAuth,
		wethFeed: wethFeed,
		dsc:      dsc,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", rec.Code)
	}
}

func TestDepositCollateralEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := uuid.New()
	if err := ts.wethAuth.Mint(alice, fpmath.FromUnits(5)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/v1/collateral/deposit", map[string]string{
		"account": alice.String(),
		"asset":   "WETH",
		"amount":  fpmath.FromUnits(5).String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	if got := ts.eng.CollateralBalance(alice, "WETH"); got.Cmp(fpmath.FromUnits(5)) != 0 {
		t.Errorf("collateral: got %s, want %s", got, fpmath.FromUnits(5))
	}
}

func TestFundCollateralEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := uuid.New()

	// No pre-minted balance: the funding route is the only on-ramp, and a
	// freshly funded account must be able to deposit end to end.
	rec := ts.do(t, http.MethodPost, "/v1/collateral/fund", map[string]string{
		"account": alice.String(),
		"asset":   "WETH",
		"amount":  fpmath.FromUnits(5).String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("fund: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/v1/collateral/deposit", map[string]string{
		"account": alice.String(),
		"asset":   "WETH",
		"amount":  fpmath.FromUnits(5).String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit after funding: got %d: %s", rec.Code, rec.Body.String())
	}

	if got := ts.eng.CollateralBalance(alice, "WETH"); got.Cmp(fpmath.FromUnits(5)) != 0 {
		t.Errorf("collateral: got %s, want %s", got, fpmath.FromUnits(5))
	}
}

func TestFundCollateralEndpoint_UnknownAsset(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/collateral/fund", map[string]string{
		"account": uuid.NewString(),
		"asset":   "DOGE",
		"amount":  fpmath.FromUnits(1).String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestDepositAndMintEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := uuid.New()
	if err := ts.wethAuth.Mint(alice, fpmath.FromUnits(5)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/v1/collateral/deposit-and-mint", map[string]string{
		"account":     alice.String(),
		"asset":       "WETH",
		"amount":      fpmath.FromUnits(5).String(),
		"mint_amount": fpmath.FromUnits(1000).String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if got := ts.dsc.BalanceOf(alice); got.Cmp(fpmath.FromUnits(1000)) != 0 {
		t.Errorf("dsc: got %s, want %s", got, fpmath.FromUnits(1000))
	}
}

func TestAccountInformationEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := uuid.New()
	if err := ts.wethAuth.Mint(alice, fpmath.FromUnits(5)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := ts.eng.DepositCollateralAndMintDsc(alice, "WETH", fpmath.FromUnits(5), fpmath.FromUnits(50)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/v1/accounts/"+alice.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["minted_dsc"] != fpmath.FromUnits(50).String() {
		t.Errorf("minted_dsc: got %v", body["minted_dsc"])
	}
	if body["collateral_value_usd"] != fpmath.FromUnits(10_000).String() {
		t.Errorf("collateral_value_usd: got %v", body["collateral_value_usd"])
	}
	if body["health_factor"] != fpmath.FromUnits(100).String() {
		t.Errorf("health_factor: got %v", body["health_factor"])
	}
}

func TestUsdValueEndpoint(t *testing.T) {
	ts := newTestServer(t)

	path := fmt.Sprintf("/v1/price/WETH/usd-value?amount=%s", fpmath.FromUnits(13))
	rec := ts.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["usd_value"] != fpmath.FromUnits(26_000).String() {
		t.Errorf("usd_value: got %v, want %s", body["usd_value"], fpmath.FromUnits(26_000))
	}
}

func TestAmountFromUsdEndpoint(t *testing.T) {
	ts := newTestServer(t)

	path := fmt.Sprintf("/v1/price/WETH/amount-from-usd?usd=%s", fpmath.FromUnits(200))
	rec := ts.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	want, _ := new(big.Int).SetString("100000000000000000", 10)
	if body["amount"] != want.String() {
		t.Errorf("amount: got %v, want %s", body["amount"], want)
	}
}

func TestCollateralTokensEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/collateral-tokens", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	tokens, ok := body["collateral_tokens"].([]interface{})
	if !ok || len(tokens) != 1 || tokens[0] != "WETH" {
		t.Errorf("collateral_tokens: got %v", body["collateral_tokens"])
	}
}

// ============================================================================
// Test: error status mapping
// ============================================================================

func TestErrorMapping_BadAccount(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/collateral/deposit", map[string]string{
		"account": "not-a-uuid",
		"asset":   "WETH",
		"amount":  "1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestErrorMapping_UnknownField(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/dsc/mint", map[string]string{
		"account":  uuid.New().String(),
		"amount":   "1",
		"surprise": "field",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestErrorMapping_UnregisteredAsset(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/collateral/deposit", map[string]string{
		"account": uuid.New().String(),
		"asset":   "DOGE",
		"amount":  fpmath.FromUnits(1).String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestErrorMapping_InsufficientFunds(t *testing.T) {
	ts := newTestServer(t)

	// Deposit with no asset balance fails on the custody pull.
	rec := ts.do(t, http.MethodPost, "/v1/collateral/deposit", map[string]string{
		"account": uuid.New().String(),
		"asset":   "WETH",
		"amount":  fpmath.FromUnits(1).String(),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("got %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping_HealthFactorBroken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/dsc/mint", map[string]string{
		"account": uuid.New().String(),
		"amount":  fpmath.FromUnits(100).String(),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("got %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping_StaleOracle(t *testing.T) {
	ts := newTestServer(t)
	ts.wethFeed.SetAnswer(big.NewInt(2000_0000_0000), time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC))

	path := fmt.Sprintf("/v1/price/WETH/usd-value?amount=%s", fpmath.FromUnits(1))
	rec := ts.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping_ZeroPriceAnswer(t *testing.T) {
	ts := newTestServer(t)
	ts.wethFeed.SetAnswer(big.NewInt(0), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	path := fmt.Sprintf("/v1/price/WETH/amount-from-usd?usd=%s", fpmath.FromUnits(100))
	rec := ts.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping_LiquidateHealthyAccount(t *testing.T) {
	ts := newTestServer(t)
	alice := uuid.New()
	if err := ts.wethAuth.Mint(alice, fpmath.FromUnits(5)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := ts.eng.DepositCollateralAndMintDsc(alice, "WETH", fpmath.FromUnits(5), fpmath.FromUnits(100)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/v1/liquidate", map[string]string{
		"liquidator":    uuid.New().String(),
		"asset":         "WETH",
		"user":          alice.String(),
		"debt_to_cover": fpmath.FromUnits(50).String(),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("got %d, want 409: %s", rec.Code, rec.Body.String())
	}
}
