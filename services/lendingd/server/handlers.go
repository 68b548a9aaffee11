package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
	"marginchain/native/lending"
	"marginchain/services/lendingd/indexer"
)

var errNotConfigured = errors.New("not configured on this node")

type assetAmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type marketAmountRequest struct {
	MarketID uint64 `json:"marketId"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
}

type liquidateRequest struct {
	User     string `json:"user"`
	MarketID uint64 `json:"marketId"`
}

type liquidateBatchRequest struct {
	Users     []string `json:"users"`
	MarketIDs []uint64 `json:"marketIds"`
}

type fillRequest struct {
	Amount string `json:"amount"`
}

// interestModelRequest replaces the default model as a whole; omitted fields
// are zero.
type interestModelRequest struct {
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

type listAssetRequest struct {
	Asset         string                `json:"asset"`
	ReserveFactor string                `json:"reserveFactor"`
	InterestModel *interestModelRequest `json:"interestModel"`
}

type createMarketRequest struct {
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	LiquidateRate        string `json:"liquidateRate"`
	WithdrawRate         string `json:"withdrawRate"`
	InitiatorRewardRatio string `json:"initiatorRewardRatio"`
	BorrowEnabled        bool   `json:"borrowEnabled"`
}

type priceRequest struct {
	Asset  string `json:"asset"`
	Price  string `json:"price"`
	Source string `json:"source"`
}

type pauseRequest struct {
	// Action pauses a single flow; empty pauses the whole module.
	Action string `json:"action"`
	Paused bool   `json:"paused"`
}

type depositRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := fixed.ParseAmount(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseDec(field, raw string) (fixed.Dec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fixed.Dec{}, nil
	}
	d, err := fixed.ParseDec(raw)
	if err != nil {
		return fixed.Dec{}, fmt.Errorf("invalid %s %q", field, raw)
	}
	return d, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func userParam(r *http.Request) (common.Address, error) {
	return parseAddress(chi.URLParam(r, "user"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	active, err := s.engine.ActiveAuctions()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"height":         s.engine.BlockHeight(),
		"activeAuctions": len(active),
	})
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.Assets()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if assets == nil {
		assets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.Markets()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, newMarketView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "marketID")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	market, err := s.engine.Market(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(market))
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.Pool(chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (s *Server) getRates(w http.ResponseWriter, r *http.Request) {
	extra := new(uint256.Int)
	if raw := r.URL.Query().Get("extraBorrow"); raw != "" {
		parsed, err := parseAmount(raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		extra = parsed
	}
	borrowRate, supplyRate, err := s.engine.PoolInterestRate(chi.URLParam(r, "asset"), extra)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratesView{BorrowRate: borrowRate.String(), SupplyRate: supplyRate.String()})
}

func (s *Server) getSupplyOf(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.PoolSupplyOf(chi.URLParam(r, "asset"), user)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(balance))
}

func (s *Server) getInsurance(w http.ResponseWriter, r *http.Request) {
	fund, err := s.engine.InsuranceFund(chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInsuranceView(fund))
}

func (s *Server) getWalletBalance(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.WalletBalance(user, chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(balance))
}

func (s *Server) accountParams(r *http.Request) (common.Address, uint64, error) {
	user, err := userParam(r)
	if err != nil {
		return common.Address{}, 0, err
	}
	marketID, err := uintParam(r, "marketID")
	if err != nil {
		return common.Address{}, 0, err
	}
	return user, marketID, nil
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	user, marketID, err := s.accountParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	details, err := s.engine.AccountDetails(user, marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(details))
}

func (s *Server) getAccountBalance(w http.ResponseWriter, r *http.Request) {
	user, marketID, err := s.accountParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.engine.AccountBalance(user, marketID, chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(balance))
}

func (s *Server) getDebt(w http.ResponseWriter, r *http.Request) {
	user, marketID, err := s.accountParams(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debt, err := s.engine.AmountBorrowed(user, marketID, chi.URLParam(r, "asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(debt))
}

func (s *Server) listActiveAuctions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.ActiveAuctions()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": ids})
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	details, err := s.engine.AuctionDetails(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionDetailsView(details))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONError(w, http.StatusNotImplemented, errNotConfigured)
		return
	}
	q := r.URL.Query()
	filter := indexer.EventFilter{Type: strings.TrimSpace(q.Get("type"))}
	for name, dst := range map[string]*uint64{"auction": &filter.AuctionID, "market": &filter.MarketID, "after": &filter.After} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid %s %q", name, raw))
			return
		}
		*dst = v
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	records, err := s.history.Events(r.Context(), filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": newEventViews(records)})
}

func (s *Server) getAuctionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONError(w, http.StatusNotImplemented, errNotConfigured)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	record, err := s.history.Auction(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("auction %d not indexed", id))
		return
	}
	writeJSON(w, http.StatusOK, newAuctionHistoryView(record))
}

// assetAmountCall decodes the caller and an {asset, amount} body.
func (s *Server) assetAmountCall(w http.ResponseWriter, r *http.Request, action string, call func(common.Address, string, *uint256.Int) error) {
	caller, err := callerFrom(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req assetAmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	err = s.traced(r, action, caller, func() error { return call(caller, req.Asset, amount) })
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(amount))
}

func (s *Server) withdrawWallet(w http.ResponseWriter, r *http.Request) {
	s.assetAmountCall(w, r, lending.ActionWallet, s.engine.WithdrawWallet)
}

func (s *Server) supply(w http.ResponseWriter, r *http.Request) {
	s.assetAmountCall(w, r, lending.ActionSupply, s.engine.Supply)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.assetAmountCall(w, r, lending.ActionWithdraw, s.engine.Withdraw)
}

func (s *Server) fundInsurance(w http.ResponseWriter, r *http.Request) {
	s.assetAmountCall(w, r, lending.ActionInsurance, s.engine.FundInsurance)
}

// marketAmountCall decodes the caller and a {marketId, asset, amount} body.
func (s *Server) marketAmountCall(w http.ResponseWriter, r *http.Request, action string, call func(common.Address, uint64, string, *uint256.Int) (*uint256.Int, error)) {
	caller, err := callerFrom(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req marketAmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var applied *uint256.Int
	err = s.traced(r, action, caller, func() error {
		var err error
		applied, err = call(caller, req.MarketID, req.Asset, amount)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(applied))
}

func unitResult(fn func(common.Address, uint64, string, *uint256.Int) error) func(common.Address, uint64, string, *uint256.Int) (*uint256.Int, error) {
	return func(user common.Address, marketID uint64, asset string, amount *uint256.Int) (*uint256.Int, error) {
		return amount, fn(user, marketID, asset, amount)
	}
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	s.marketAmountCall(w, r, lending.ActionBorrow, unitResult(s.engine.Borrow))
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	s.marketAmountCall(w, r, lending.ActionRepay, s.engine.Repay)
}

func (s *Server) depositCollateral(w http.ResponseWriter, r *http.Request) {
	s.marketAmountCall(w, r, lending.ActionDepositCollateral, unitResult(s.engine.DepositCollateral))
}

func (s *Server) withdrawCollateral(w http.ResponseWriter, r *http.Request) {
	s.marketAmountCall(w, r, lending.ActionWithdrawCollateral, unitResult(s.engine.WithdrawCollateral))
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var result *lending.LiquidationResult
	err = s.traced(r, lending.ActionLiquidate, caller, func() error {
		var err error
		result, err = s.engine.Liquidate(caller, user, req.MarketID)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidationView(result))
}

func (s *Server) liquidateBatch(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req liquidateBatchRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	users := make([]common.Address, 0, len(req.Users))
	for _, raw := range req.Users {
		user, err := parseAddress(raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		users = append(users, user)
	}
	var results []*lending.LiquidationResult
	err = s.traced(r, lending.ActionLiquidate, caller, func() error {
		var err error
		results, err = s.engine.LiquidateMulti(caller, users, req.MarketIDs)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]liquidationView, 0, len(results))
	for _, result := range results {
		out = append(out, newLiquidationView(result))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) fillAuction(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req fillRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var result *lending.FillResult
	err = s.traced(r, lending.ActionFill, caller, func() error {
		var err error
		result, err = s.engine.FillAuction(caller, id, amount)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFillView(result))
}

func (s *Server) listAsset(w http.ResponseWriter, r *http.Request) {
	var req listAssetRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	reserveFactor, err := parseDec("reserveFactor", req.ReserveFactor)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	model := lending.DefaultInterestModel
	if req.InterestModel != nil {
		fields := []struct {
			name string
			raw  string
			dst  *fixed.Dec
		}{
			{"baseRate", req.InterestModel.BaseRate, &model.BaseRate},
			{"slope1", req.InterestModel.Slope1, &model.Slope1},
			{"slope2", req.InterestModel.Slope2, &model.Slope2},
			{"kink", req.InterestModel.Kink, &model.Kink},
		}
		for _, f := range fields {
			d, err := parseDec(f.name, f.raw)
			if err != nil {
				writeBadRequest(w, err)
				return
			}
			*f.dst = d
		}
	}
	if err := s.engine.ListAsset(req.Asset, model, reserveFactor); err != nil {
		writeEngineError(w, err)
		return
	}
	pool, err := s.engine.Pool(req.Asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPoolView(pool))
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	market := lending.Market{
		BaseAsset:     req.BaseAsset,
		QuoteAsset:    req.QuoteAsset,
		BorrowEnabled: req.BorrowEnabled,
	}
	fields := []struct {
		name string
		raw  string
		dst  *fixed.Dec
	}{
		{"liquidateRate", req.LiquidateRate, &market.LiquidateRate},
		{"withdrawRate", req.WithdrawRate, &market.WithdrawRate},
		{"initiatorRewardRatio", req.InitiatorRewardRatio, &market.InitiatorRewardRatio},
	}
	for _, f := range fields {
		d, err := parseDec(f.name, f.raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		*f.dst = d
	}
	created, err := s.engine.CreateMarket(market)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketView(created))
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeJSONError(w, http.StatusNotImplemented, errNotConfigured)
		return
	}
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseDec("price", req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "admin"
	}
	if err := s.prices.Set(req.Asset, price, source); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": strings.ToUpper(strings.TrimSpace(req.Asset)), "price": price.String()})
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		writeJSONError(w, http.StatusNotImplemented, errNotConfigured)
		return
	}
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		s.pauses.SetModule(lending.Module, req.Paused)
	} else {
		s.pauses.SetAction(lending.Module, action, req.Paused)
	}
	s.logger.Info("pause switch updated", "action", action, "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"action": action, "paused": req.Paused})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.Deposit(user, req.Asset, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(amount))
}
