package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"nftpool/core/types"
	"nftpool/native/pool"
	"nftpool/observability/metrics"
	"nftpool/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeRateLimited    = -32020
	codePoolError      = -32030
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// ServerConfig controls optional behaviours of the RPC server.
type ServerConfig struct {
	// MutationRate caps mutating operations per second; zero disables the
	// limiter.
	MutationRate float64
	// MutationBurst is the limiter burst size.
	MutationBurst int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Server exposes the pool operation surface over JSON-RPC. All operations on
// the pool are serialized under one mutex; the operation timestamp is pinned
// once per request.
type Server struct {
	mu      sync.Mutex
	pool    *pool.Pool
	db      storage.Database
	log     *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time
	metrics *metrics.PoolMetrics

	handlers map[string]func(http.ResponseWriter, *RPCRequest)
}

// NewServer wires the RPC surface to a pool and its snapshot store. The store
// may be nil, in which case state lives only in memory.
func NewServer(p *pool.Pool, db storage.Database, log *slog.Logger, cfg ServerConfig) *Server {
	s := &Server{
		pool:    p,
		db:      db,
		log:     log,
		now:     cfg.Now,
		metrics: metrics.Pool(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if cfg.MutationRate > 0 {
		burst := cfg.MutationBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MutationRate), burst)
	}
	s.handlers = map[string]func(http.ResponseWriter, *RPCRequest){
		"pool_deposit":                s.handleDeposit,
		"pool_redeem":                 s.handleRedeem,
		"pool_withdraw":               s.handleWithdraw,
		"pool_rebalance":              s.handleRebalance,
		"pool_borrow":                 s.handleBorrow,
		"pool_repay":                  s.handleRepay,
		"pool_refinance":              s.handleRefinance,
		"pool_liquidate":              s.handleLiquidate,
		"pool_onCollateralLiquidated": s.handleOnCollateralLiquidated,
		"pool_quote":                  s.handleQuote,
		"pool_liquidityNode":          s.handleLiquidityNode,
		"pool_liquidityNodes":         s.handleLiquidityNodes,
		"pool_deposits":               s.handleDeposits,
		"pool_redemptions":            s.handleRedemptions,
		"pool_redemptionAvailable":    s.handleRedemptionAvailable,
		"pool_loans":                  s.handleLoans,
		"pool_adminFeeBalance":        s.handleAdminFeeBalance,
		"pool_setAdminFee":            s.handleSetAdminFee,
		"pool_withdrawAdminFees":      s.handleWithdrawAdminFees,
	}
	return s
}

// Handler returns the HTTP mux serving the RPC endpoint, health, and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveRPC)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	handler(w, &req)
}

// begin pins the operation timestamp and serializes pool access. Mutating
// requests pass through the rate limiter first.
func (s *Server) begin(mutating bool) (release func(), ok bool) {
	if mutating && s.limiter != nil && !s.limiter.Allow() {
		return nil, false
	}
	s.mu.Lock()
	s.pool.SetTimestamp(uint64(s.now().Unix()))
	return s.mu.Unlock, true
}

// persist snapshots pool state after a successful mutation and refreshes the
// state gauges.
func (s *Server) persist() {
	s.metrics.SetLiveNodes(len(s.pool.LiquidityNodes(nil, nil)) - 1)
	balance, _ := new(big.Float).SetInt(s.pool.AdminFeeBalance()).Float64()
	s.metrics.SetAdminFeeBalance(balance)
	if s.db == nil {
		return
	}
	if err := s.pool.Save(s.db); err != nil {
		s.log.Error("pool snapshot failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writePoolError maps engine errors onto JSON-RPC codes, keeping the stable
// error message in the data field.
func writePoolError(w http.ResponseWriter, id interface{}, err error) {
	code := codePoolError
	switch {
	case errors.Is(err, pool.ErrInvalidParameters),
		errors.Is(err, pool.ErrInvalidTick),
		errors.Is(err, types.ErrInvalidReceiptEncoding),
		errors.Is(err, types.ErrUnsupportedReceiptVersion):
		code = codeInvalidParams
	case errors.Is(err, pool.ErrReentrancy):
		code = codeServerError
	}
	writeError(w, http.StatusOK, id, code, "operation failed", err.Error())
}

func writeRateLimited(w http.ResponseWriter, id interface{}) {
	writeError(w, http.StatusTooManyRequests, id, codeRateLimited, "rate limit exceeded", nil)
}
