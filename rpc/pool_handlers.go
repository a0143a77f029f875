package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftpool/native/pool"
)

type depositParams struct {
	From      string `json:"from"`
	Tick      string `json:"tick"`
	Amount    string `json:"amount"`
	MinShares string `json:"minShares,omitempty"`
}

type redeemParams struct {
	From   string `json:"from"`
	Tick   string `json:"tick"`
	Shares string `json:"shares"`
}

type withdrawParams struct {
	From         string `json:"from"`
	Tick         string `json:"tick"`
	RedemptionID uint64 `json:"redemptionId"`
}

type rebalanceParams struct {
	From         string `json:"from"`
	SourceTick   string `json:"sourceTick"`
	DestTick     string `json:"destTick"`
	RedemptionID uint64 `json:"redemptionId"`
	MinShares    string `json:"minShares,omitempty"`
}

type borrowParams struct {
	Borrower          string   `json:"borrower"`
	Principal         string   `json:"principal"`
	Duration          uint64   `json:"duration"`
	CollateralToken   string   `json:"collateralToken"`
	CollateralTokenID string   `json:"collateralTokenId"`
	MaxRepayment      string   `json:"maxRepayment,omitempty"`
	Ticks             []string `json:"ticks"`
	Options           string   `json:"options,omitempty"`
}

type repayParams struct {
	From    string `json:"from"`
	Receipt string `json:"receipt"`
}

type refinanceParams struct {
	From         string   `json:"from"`
	Receipt      string   `json:"receipt"`
	Principal    string   `json:"principal"`
	Duration     uint64   `json:"duration"`
	MaxRepayment string   `json:"maxRepayment,omitempty"`
	Ticks        []string `json:"ticks"`
}

type liquidateParams struct {
	Receipt string `json:"receipt"`
}

type collateralLiquidatedParams struct {
	From     string `json:"from"`
	Receipt  string `json:"receipt"`
	Proceeds string `json:"proceeds"`
}

type quoteParams struct {
	Principal          string   `json:"principal"`
	Duration           uint64   `json:"duration"`
	CollateralToken    string   `json:"collateralToken"`
	CollateralTokenIDs []string `json:"collateralTokenIds"`
	Ticks              []string `json:"ticks"`
	Options            string   `json:"options,omitempty"`
}

type tickParams struct {
	Tick string `json:"tick"`
}

type rangeParams struct {
	Begin string `json:"begin,omitempty"`
	End   string `json:"end,omitempty"`
}

type accountTickParams struct {
	Account      string `json:"account"`
	Tick         string `json:"tick"`
	RedemptionID uint64 `json:"redemptionId,omitempty"`
}

type loanParams struct {
	Hash string `json:"hash"`
}

type adminFeeParams struct {
	From string `json:"from"`
	Rate uint64 `json:"rate"`
}

type withdrawFeesParams struct {
	From      string `json:"from"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type sharesResult struct {
	Shares string `json:"shares"`
}

type redemptionIDResult struct {
	RedemptionID uint64 `json:"redemptionId"`
}

type withdrawResult struct {
	Shares string `json:"shares"`
	Amount string `json:"amount"`
}

type rebalanceResult struct {
	Shares    string `json:"shares"`
	Amount    string `json:"amount"`
	SharesOut string `json:"sharesOut"`
}

type loanResult struct {
	Receipt string `json:"receipt"`
	Hash    string `json:"hash"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type statusResult struct {
	Status string `json:"status"`
}

type redemptionResult struct {
	Pending string `json:"pending"`
	Index   uint64 `json:"index"`
	Target  string `json:"target"`
}

type depositRecordResult struct {
	Shares       string `json:"shares"`
	RedemptionID uint64 `json:"redemptionId"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errInvalidParamCount
	}
	return json.Unmarshal(req.Params[0], out)
}

var errInvalidParamCount = jsonError("expected a single parameter object")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func parseAddress(value string) (common.Address, bool) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, false
	}
	return common.HexToAddress(trimmed), true
}

func parseBig(value string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, false
	}
	return parsed, true
}

func parseOptionalBig(value string) (*big.Int, bool) {
	if strings.TrimSpace(value) == "" {
		return nil, true
	}
	return parseBig(value)
}

func parseBigList(values []string) ([]*big.Int, bool) {
	out := make([]*big.Int, len(values))
	for i, value := range values {
		parsed, ok := parseBig(value)
		if !ok {
			return nil, false
		}
		out[i] = parsed
	}
	return out, true
}

func parseHexBytes(value string) ([]byte, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, true
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	tick, okTick := parseBig(params.Tick)
	amount, okAmount := parseBig(params.Amount)
	minShares, okMin := parseOptionalBig(params.MinShares)
	if !okFrom || !okTick || !okAmount || !okMin {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	shares, err := s.pool.Deposit(from, tick, amount, minShares)
	s.metrics.Observe("deposit", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, sharesResult{Shares: shares.String()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, req *RPCRequest) {
	var params redeemParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	tick, okTick := parseBig(params.Tick)
	shares, okShares := parseBig(params.Shares)
	if !okFrom || !okTick || !okShares {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	id, err := s.pool.Redeem(from, tick, shares)
	s.metrics.Observe("redeem", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, redemptionIDResult{RedemptionID: id})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	tick, okTick := parseBig(params.Tick)
	if !okFrom || !okTick {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	shares, amount, err := s.pool.Withdraw(from, tick, params.RedemptionID)
	s.metrics.Observe("withdraw", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, withdrawResult{Shares: shares.String(), Amount: amount.String()})
}

func (s *Server) handleRebalance(w http.ResponseWriter, req *RPCRequest) {
	var params rebalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	src, okSrc := parseBig(params.SourceTick)
	dst, okDst := parseBig(params.DestTick)
	minShares, okMin := parseOptionalBig(params.MinShares)
	if !okFrom || !okSrc || !okDst || !okMin {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	shares, amount, sharesOut, err := s.pool.Rebalance(from, src, dst, params.RedemptionID, minShares)
	s.metrics.Observe("rebalance", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, rebalanceResult{Shares: shares.String(), Amount: amount.String(), SharesOut: sharesOut.String()})
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) {
	var params borrowParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, okBorrower := parseAddress(params.Borrower)
	principal, okPrincipal := parseBig(params.Principal)
	token, okToken := parseAddress(params.CollateralToken)
	tokenID, okID := parseBig(params.CollateralTokenID)
	maxRepayment, okMax := parseOptionalBig(params.MaxRepayment)
	ticks, okTicks := parseBigList(params.Ticks)
	options, okOptions := parseHexBytes(params.Options)
	if !okBorrower || !okPrincipal || !okToken || !okID || !okMax || !okTicks || !okOptions {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	receipt, hash, err := s.pool.Borrow(borrower, principal, params.Duration, token, tokenID, maxRepayment, ticks, options)
	s.metrics.Observe("borrow", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	encoded, err := receipt.Encode()
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, loanResult{Receipt: "0x" + hex.EncodeToString(encoded), Hash: hash.Hex()})
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	receipt, okReceipt := parseHexBytes(params.Receipt)
	if !okFrom || !okReceipt {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	amount, err := s.pool.Repay(from, receipt)
	s.metrics.Observe("repay", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleRefinance(w http.ResponseWriter, req *RPCRequest) {
	var params refinanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	receipt, okReceipt := parseHexBytes(params.Receipt)
	principal, okPrincipal := parseBig(params.Principal)
	maxRepayment, okMax := parseOptionalBig(params.MaxRepayment)
	ticks, okTicks := parseBigList(params.Ticks)
	if !okFrom || !okReceipt || !okPrincipal || !okMax || !okTicks {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	newReceipt, hash, err := s.pool.Refinance(from, receipt, principal, params.Duration, maxRepayment, ticks)
	s.metrics.Observe("refinance", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	encoded, err := newReceipt.Encode()
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, loanResult{Receipt: "0x" + hex.EncodeToString(encoded), Hash: hash.Hex()})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	receipt, okReceipt := parseHexBytes(params.Receipt)
	if !okReceipt {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	err := s.pool.Liquidate(receipt)
	s.metrics.Observe("liquidate", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, statusResult{Status: pool.LoanStatusLiquidated.String()})
}

func (s *Server) handleOnCollateralLiquidated(w http.ResponseWriter, req *RPCRequest) {
	var params collateralLiquidatedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	receipt, okReceipt := parseHexBytes(params.Receipt)
	proceeds, okProceeds := parseBig(params.Proceeds)
	if !okFrom || !okReceipt || !okProceeds {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	err := s.pool.OnCollateralLiquidated(from, receipt, proceeds)
	s.metrics.Observe("onCollateralLiquidated", err)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, statusResult{Status: pool.LoanStatusCollateralLiquidated.String()})
}

func (s *Server) handleQuote(w http.ResponseWriter, req *RPCRequest) {
	var params quoteParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	principal, okPrincipal := parseBig(params.Principal)
	token, okToken := parseAddress(params.CollateralToken)
	ids, okIDs := parseBigList(params.CollateralTokenIDs)
	ticks, okTicks := parseBigList(params.Ticks)
	options, okOptions := parseHexBytes(params.Options)
	if !okPrincipal || !okToken || !okIDs || !okTicks || !okOptions {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	repayment, err := s.pool.Quote(principal, params.Duration, token, ids, ticks, options)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: repayment.String()})
}

func (s *Server) handleLiquidityNode(w http.ResponseWriter, req *RPCRequest) {
	var params tickParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	tick, okTick := parseBig(params.Tick)
	if !okTick {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	info, err := s.pool.LiquidityNode(tick)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, info)
}

func (s *Server) handleLiquidityNodes(w http.ResponseWriter, req *RPCRequest) {
	var params rangeParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	var begin, end *big.Int
	if params.Begin != "" {
		parsed, okBegin := parseBig(params.Begin)
		if !okBegin {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
			return
		}
		begin = parsed
	}
	if params.End != "" {
		parsed, okEnd := parseBig(params.End)
		if !okEnd {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
			return
		}
		end = parsed
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	writeResult(w, req.ID, s.pool.LiquidityNodes(begin, end))
}

func (s *Server) handleDeposits(w http.ResponseWriter, req *RPCRequest) {
	var params accountTickParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, okAccount := parseAddress(params.Account)
	tick, okTick := parseBig(params.Tick)
	if !okAccount || !okTick {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	deposit, err := s.pool.Deposits(account, tick)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositRecordResult{Shares: deposit.Shares.String(), RedemptionID: deposit.RedemptionID})
}

func (s *Server) handleRedemptions(w http.ResponseWriter, req *RPCRequest) {
	var params accountTickParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, okAccount := parseAddress(params.Account)
	tick, okTick := parseBig(params.Tick)
	if !okAccount || !okTick {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	ticket, err := s.pool.Redemptions(account, tick, params.RedemptionID)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, redemptionResult{Pending: ticket.Pending.String(), Index: ticket.Index, Target: ticket.Target.String()})
}

func (s *Server) handleRedemptionAvailable(w http.ResponseWriter, req *RPCRequest) {
	var params accountTickParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, okAccount := parseAddress(params.Account)
	tick, okTick := parseBig(params.Tick)
	if !okAccount || !okTick {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	shares, amount, err := s.pool.RedemptionAvailable(account, tick, params.RedemptionID)
	if err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{Shares: shares.String(), Amount: amount.String()})
}

func (s *Server) handleLoans(w http.ResponseWriter, req *RPCRequest) {
	var params loanParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	hashBytes, okHash := parseHexBytes(params.Hash)
	if !okHash || len(hashBytes) != common.HashLength {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	status := s.pool.Loans(common.BytesToHash(hashBytes))
	writeResult(w, req.ID, statusResult{Status: status.String()})
}

func (s *Server) handleAdminFeeBalance(w http.ResponseWriter, req *RPCRequest) {
	release, ok := s.begin(false)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	writeResult(w, req.ID, amountResult{Amount: s.pool.AdminFeeBalance().String()})
}

func (s *Server) handleSetAdminFee(w http.ResponseWriter, req *RPCRequest) {
	var params adminFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	if !okFrom {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	if err := s.pool.SetAdminFee(from, params.Rate); err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleWithdrawAdminFees(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawFeesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, okFrom := parseAddress(params.From)
	recipient, okRecipient := parseAddress(params.Recipient)
	amount, okAmount := parseBig(params.Amount)
	if !okFrom || !okRecipient || !okAmount {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", nil)
		return
	}
	release, ok := s.begin(true)
	if !ok {
		writeRateLimited(w, req.ID)
		return
	}
	defer release()
	if err := s.pool.WithdrawAdminFees(from, recipient, amount); err != nil {
		writePoolError(w, req.ID, err)
		return
	}
	s.persist()
	writeResult(w, req.ID, statusResult{Status: "ok"})
}
