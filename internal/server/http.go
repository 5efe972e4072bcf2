package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gopiinho/stablecoin/internal/engine"
	"github.com/gopiinho/stablecoin/internal/observability"
	"github.com/gopiinho/stablecoin/internal/oracle"
	"github.com/gopiinho/stablecoin/internal/token"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the engine's operations and read accessors as an
// HTTP/JSON API. Amounts cross the wire as wad decimal strings.
type Server struct {
	engine  *engine.Engine
	funders map[string]*token.Authority
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(eng *engine.Engine, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		engine:  eng,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

// WithCollateralFunding mounts the collateral on-ramp: a funding route
// that credits an account's balance on a collateral ledger through that
// ledger's mint authority. Keyed by asset symbol. Without it deposits can
// only move balances that already exist on the ledgers.
func (s *Server) WithCollateralFunding(funders map[string]*token.Authority) *Server {
	s.funders = funders
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/collateral/deposit", s.instrument("collateral_deposit", s.depositCollateral))
		r.Post("/collateral/withdraw", s.instrument("collateral_withdraw", s.withdrawCollateral))
		r.Post("/collateral/deposit-and-mint", s.instrument("deposit_and_mint", s.depositAndMint))
		r.Post("/collateral/withdraw-for-dsc", s.instrument("withdraw_for_dsc", s.withdrawForDsc))
		r.Post("/dsc/mint", s.instrument("dsc_mint", s.mintDsc))
		r.Post("/dsc/burn", s.instrument("dsc_burn", s.burnDsc))
		r.Post("/liquidate", s.instrument("liquidate", s.liquidate))

		if s.funders != nil {
			r.Post("/collateral/fund", s.instrument("collateral_fund", s.fundCollateral))
		}

		r.Get("/collateral-tokens", s.instrument("collateral_tokens", s.collateralTokens))
		r.Get("/accounts/{account}", s.instrument("account_info", s.accountInformation))
		r.Get("/accounts/{account}/health-factor", s.instrument("health_factor", s.healthFactor))
		r.Get("/accounts/{account}/collateral/{asset}", s.instrument("collateral_balance", s.collateralBalance))
		r.Get("/price/{asset}/usd-value", s.instrument("usd_value", s.usdValue))
		r.Get("/price/{asset}/amount-from-usd", s.instrument("amount_from_usd", s.amountFromUsd))
	})

	return r
}

// instrument wraps a handler with request metrics for one route.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.code)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------------------------------------------------------------------------
// State-changing operations
// ---------------------------------------------------------------------------

type collateralRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (s *Server) depositCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.DepositCollateral(account, req.Asset, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) withdrawCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.WithdrawCollateral(account, req.Asset, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

type depositAndMintRequest struct {
	Account    string `json:"account"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	MintAmount string `json:"mint_amount"`
}

func (s *Server) depositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mintAmount, err := parseWad(req.MintAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.DepositCollateralAndMintDsc(account, req.Asset, amount, mintAmount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

type withdrawForDscRequest struct {
	Account    string `json:"account"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	BurnAmount string `json:"burn_amount"`
}

func (s *Server) withdrawForDsc(w http.ResponseWriter, r *http.Request) {
	var req withdrawForDscRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	burnAmount, err := parseWad(req.BurnAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.WithdrawCollateralForDsc(account, req.Asset, amount, burnAmount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

type dscRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) mintDsc(w http.ResponseWriter, r *http.Request) {
	var req dscRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.MintDsc(account, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) burnDsc(w http.ResponseWriter, r *http.Request) {
	var req dscRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.BurnDsc(account, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

// fundCollateral credits an account's collateral ledger balance. This is
// where external collateral enters the system; the engine itself never
// mints collateral, only the synthetic.
func (s *Server) fundCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	funder, ok := s.funders[req.Asset]
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", engine.ErrUnregisteredAsset, req.Asset))
		return
	}
	if err := funder.Mint(account, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	Asset       string `json:"asset"`
	User        string `json:"user"`
	DebtToCover string `json:"debt_to_cover"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	liquidator, err := uuid.Parse(req.Liquidator)
	if err != nil {
		s.writeError(w, badRequestError{fmt.Errorf("liquidator: %w", err)})
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		s.writeError(w, badRequestError{fmt.Errorf("user: %w", err)})
		return
	}
	debtToCover, err := parseWad(req.DebtToCover)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Liquidate(liquidator, req.Asset, user, debtToCover); err != nil {
		s.writeError(w, err)
		return
	}
	writeOK(w)
}

// ---------------------------------------------------------------------------
// Read accessors
// ---------------------------------------------------------------------------

func (s *Server) collateralTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collateral_tokens": s.engine.CollateralTokens(),
	})
}

func (s *Server) accountInformation(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	debt, collateralUsd, err := s.engine.AccountInformation(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hf, err := s.engine.HealthFactor(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":              account.String(),
		"minted_dsc":           debt.String(),
		"collateral_value_usd": collateralUsd.String(),
		"health_factor":        hf.String(),
	})
}

func (s *Server) healthFactor(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hf, err := s.engine.HealthFactor(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":       account.String(),
		"health_factor": hf.String(),
	})
}

func (s *Server) collateralBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account.String(),
		"asset":   asset,
		"balance": s.engine.CollateralBalance(account, asset).String(),
	})
}

func (s *Server) usdValue(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	amount, err := parseWad(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.engine.TokenUsdValue(asset, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":     asset,
		"amount":    amount.String(),
		"usd_value": v.String(),
	})
}

func (s *Server) amountFromUsd(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	usd, err := parseWad(r.URL.Query().Get("usd"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.engine.TokenAmountFromUsd(asset, usd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  asset,
		"usd":    usd.String(),
		"amount": v.String(),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequestError{fmt.Errorf("decode request: %w", err)}
	}
	return nil
}

func parseAccountAmount(accountStr, amountStr string) (uuid.UUID, *big.Int, error) {
	account, err := uuid.Parse(accountStr)
	if err != nil {
		return uuid.Nil, nil, badRequestError{fmt.Errorf("account: %w", err)}
	}
	amount, err := parseWad(amountStr)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return account, amount, nil
}

func parseWad(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, badRequestError{fmt.Errorf("unparsable amount %q", s)}
	}
	return v, nil
}

func pathAccount(r *http.Request) (uuid.UUID, error) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		return uuid.Nil, badRequestError{fmt.Errorf("account: %w", err)}
	}
	return account, nil
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's failure taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	var badReq badRequestError
	switch {
	case errors.As(err, &badReq),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrUnregisteredAsset),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrNilAccount):
		code = http.StatusBadRequest

	case errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrInsufficientDebt),
		errors.Is(err, engine.ErrTransferFailed),
		errors.Is(err, token.ErrInsufficientBalance):
		code = http.StatusUnprocessableEntity

	case errors.Is(err, engine.ErrHealthFactorBroken),
		errors.Is(err, engine.ErrHealthFactorOK),
		errors.Is(err, engine.ErrHealthFactorNotImproved),
		errors.Is(err, engine.ErrReentrantCall):
		code = http.StatusConflict

	case errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrNoPriceData):
		code = http.StatusServiceUnavailable
	}

	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
