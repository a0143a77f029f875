package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"nftpool/native/pool"
	"nftpool/native/token"
	"nftpool/storage"
)

var (
	testPoolAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testLender   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testNFTAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func fixedPointUnits(n int64) *big.Int {
	scale, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *token.Ledger) {
	t.Helper()
	annual := new(big.Int).Quo(fixedPointUnits(1), big.NewInt(10))
	params := &pool.Params{
		Admin:                   testAdmin,
		Durations:               []uint64{7 * 86400, 30 * 86400},
		Rates:                   []*big.Int{pool.NormalizeRate(annual)},
		TickLimitSpacingBps:     pool.DefaultTickLimitSpacingBps,
		BorrowerSurplusSplitBps: pool.DefaultBorrowerSurplusSplitBps,
		CollateralFilter:        pool.CollateralFilter{Kind: pool.FilterSingleCollection, Token: testNFTAddr},
	}
	currency := token.NewLedger(testPoolAddr)
	currency.Mint(testLender, fixedPointUnits(1_000))
	p, err := pool.NewPool(testPoolAddr, params, pool.Collaborators{
		Currency:   currency,
		Collateral: token.NewNFTLedger(),
	})
	require.NoError(t, err)
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Unix(1_000_000, 0) }
	}
	return NewServer(p, storage.NewMemDB(), nil, cfg), currency
}

func call(t *testing.T, s *Server, method string, params interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httpReq)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func testTick(t *testing.T) string {
	t.Helper()
	tick, err := pool.EncodeTick(fixedPointUnits(10), 0, 0, 0)
	require.NoError(t, err)
	return tick.String()
}

func TestMethodNotFound(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	recorder, resp := call(t, s, "pool_unknown", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestGetRequestRejected(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestDepositAndViews(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	tick := testTick(t)

	recorder, resp := call(t, s, "pool_deposit", depositParams{
		From:   testLender.Hex(),
		Tick:   tick,
		Amount: fixedPointUnits(5).String(),
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	var shares sharesResult
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp.Result), &shares))
	require.Equal(t, fixedPointUnits(5).String(), shares.Shares)

	_, resp = call(t, s, "pool_deposits", accountTickParams{Account: testLender.Hex(), Tick: tick})
	require.Nil(t, resp.Error)
	var record depositRecordResult
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp.Result), &record))
	require.Equal(t, fixedPointUnits(5).String(), record.Shares)

	_, resp = call(t, s, "pool_liquidityNode", tickParams{Tick: tick})
	require.Nil(t, resp.Error)

	_, resp = call(t, s, "pool_adminFeeBalance", nil)
	require.Nil(t, resp.Error)
	var fees amountResult
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp.Result), &fees))
	require.Equal(t, "0", fees.Amount)
}

func TestDepositErrorMapping(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	// Malformed address fails request validation.
	recorder, resp := call(t, s, "pool_deposit", depositParams{From: "nope", Tick: "1", Amount: "1"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	// A zero tick reaches the engine and maps onto an invalid-params code.
	_, resp = call(t, s, "pool_deposit", depositParams{From: testLender.Hex(), Tick: "0", Amount: "1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	// An engine-level liquidity failure keeps the pool error code.
	_, resp = call(t, s, "pool_redeem", redeemParams{From: testLender.Hex(), Tick: testTick(t), Shares: "1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codePoolError, resp.Error.Code)
}

func TestLiquidityNodesReturnsSentinel(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	_, resp := call(t, s, "pool_liquidityNodes", rangeParams{})
	require.Nil(t, resp.Error)
	var nodes []pool.NodeInfo
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp.Result), &nodes))
	require.Len(t, nodes, 1)
	require.Equal(t, int64(0), nodes[0].Tick.Int64())
}

func TestMutationRateLimit(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{MutationRate: 0.000001, MutationBurst: 1})
	tick := testTick(t)
	deposit := depositParams{From: testLender.Hex(), Tick: tick, Amount: fixedPointUnits(1).String()}

	recorder, resp := call(t, s, "pool_deposit", deposit)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	recorder, resp = call(t, s, "pool_deposit", deposit)
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	require.Equal(t, codeRateLimited, resp.Error.Code)

	// Views are not rate limited.
	_, resp = call(t, s, "pool_adminFeeBalance", nil)
	require.Nil(t, resp.Error)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
