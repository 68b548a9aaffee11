package lending

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"marginchain/core/fixed"
	"marginchain/core/state"
)

var (
	marketPrefix      = "lending/market/"
	marketListKey     = []byte("lending/markets")
	poolPrefix        = "lending/pool/"
	assetListKey      = []byte("lending/assets")
	supplyPrefix      = "lending/supply/"
	accountPrefix     = "lending/account/"
	auctionPrefix     = "lending/auction/"
	auctionCounterKey = []byte("lending/auction-counter")
	activeAuctionsKey = []byte("lending/auctions-active")
)

// Ledger owner paths.

// WalletPath is the common balance of a user.
func WalletPath(user common.Address) string {
	return "wallet/" + strings.ToLower(user.Hex())
}

// AccountPath is the isolated collateral account of user in a market.
func AccountPath(marketID uint64, user common.Address) string {
	return "account/" + strconv.FormatUint(marketID, 10) + "/" + strings.ToLower(user.Hex())
}

// PoolPath holds the custody of a pool, including its insurance reserve.
func PoolPath(asset string) string {
	return "pool/" + asset
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func marketKey(id uint64) []byte {
	return []byte(marketPrefix + strconv.FormatUint(id, 10))
}

func poolKey(asset string) []byte {
	return []byte(poolPrefix + asset)
}

func supplyKey(asset string, user common.Address) []byte {
	return []byte(supplyPrefix + asset + "/" + strings.ToLower(user.Hex()))
}

func accountKey(marketID uint64, user common.Address) []byte {
	return []byte(accountPrefix + strconv.FormatUint(marketID, 10) + "/" + strings.ToLower(user.Hex()))
}

func auctionKey(id uint64) []byte {
	return []byte(auctionPrefix + strconv.FormatUint(id, 10))
}

// store is the typed record layer over the call's KVStore.
type store struct {
	kv state.KVStore
}

func (s store) market(id uint64) (*Market, error) {
	var m Market
	ok, err := s.kv.KVGet(marketKey(id), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	return &m, nil
}

func (s store) marketIDs() ([]uint64, error) {
	var ids []uint64
	if _, err := s.kv.KVGet(marketListKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s store) putMarket(m *Market) error {
	ids, err := s.marketIDs()
	if err != nil {
		return err
	}
	if err := s.kv.KVPut(marketKey(m.ID), m); err != nil {
		return err
	}
	return s.kv.KVPut(marketListKey, append(ids, m.ID))
}

func (s store) pool(asset string) (*PoolAsset, error) {
	var p PoolAsset
	ok, err := s.kv.KVGet(poolKey(asset), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	p.ensureDefaults()
	return &p, nil
}

func (s store) hasPool(asset string) (bool, error) {
	return s.kv.KVGet(poolKey(asset), nil)
}

func (s store) putPool(p *PoolAsset) error {
	return s.kv.KVPut(poolKey(p.Asset), p)
}

func (s store) assets() ([]string, error) {
	var assets []string
	if _, err := s.kv.KVGet(assetListKey, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (s store) addAsset(asset string) error {
	assets, err := s.assets()
	if err != nil {
		return err
	}
	return s.kv.KVPut(assetListKey, append(assets, asset))
}

func (s store) userSupply(asset string, user common.Address) (*UserSupply, error) {
	var u UserSupply
	ok, err := s.kv.KVGet(supplyKey(asset, user), &u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &UserSupply{Principal: fixed.Zero(), Index: fixed.One()}, nil
	}
	if u.Principal == nil {
		u.Principal = fixed.Zero()
	}
	return &u, nil
}

func (s store) putUserSupply(asset string, user common.Address, u *UserSupply) error {
	return s.kv.KVPut(supplyKey(asset, user), u)
}

// account loads the collateral account, creating a fresh Normal one in
// memory when it was never touched.
func (s store) account(m *Market, user common.Address) (*CollateralAccount, error) {
	var a CollateralAccount
	ok, err := s.kv.KVGet(accountKey(m.ID, user), &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &CollateralAccount{
			Owner:    user,
			MarketID: m.ID,
			Status:   AccountNormal,
			Base:     AssetPosition{Asset: m.BaseAsset, Principal: fixed.Zero(), Index: fixed.One()},
			Quote:    AssetPosition{Asset: m.QuoteAsset, Principal: fixed.Zero(), Index: fixed.One()},
		}, nil
	}
	for _, pos := range []*AssetPosition{&a.Base, &a.Quote} {
		if pos.Principal == nil {
			pos.Principal = fixed.Zero()
		}
	}
	return &a, nil
}

func (s store) putAccount(a *CollateralAccount) error {
	return s.kv.KVPut(accountKey(a.MarketID, a.Owner), a)
}

func (s store) auction(id uint64) (*Auction, error) {
	var a Auction
	ok, err := s.kv.KVGet(auctionKey(id), &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAuction, id)
	}
	return &a, nil
}

func (s store) putAuction(a *Auction) error {
	return s.kv.KVPut(auctionKey(a.ID), a)
}

// nextAuctionID allocates auction ids starting at 1.
func (s store) nextAuctionID() (uint64, error) {
	var last uint64
	if _, err := s.kv.KVGet(auctionCounterKey, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if next == 0 {
		return 0, fmt.Errorf("%w: auction id space exhausted", fixed.ErrOverflow)
	}
	if err := s.kv.KVPut(auctionCounterKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s store) activeSet() (*activeSet, error) {
	var ids []uint64
	if _, err := s.kv.KVGet(activeAuctionsKey, &ids); err != nil {
		return nil, err
	}
	return newActiveSet(ids), nil
}

func (s store) putActiveSet(set *activeSet) error {
	return s.kv.KVPut(activeAuctionsKey, set.IDs())
}

func (p *PoolAsset) ensureDefaults() {
	for _, field := range []**uint256.Int{
		&p.TotalSupply, &p.TotalBorrow, &p.Cash, &p.InsuranceBalance,
		&p.InsuranceClaimed, &p.InsuranceCovered, &p.InsuranceSocialized,
	} {
		if *field == nil {
			*field = fixed.Zero()
		}
	}
}
