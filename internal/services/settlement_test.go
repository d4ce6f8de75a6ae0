package services

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"DTokenSale/internal/events"
	"DTokenSale/internal/models"
	"DTokenSale/internal/payments"
	"DTokenSale/internal/pricing"
	"DTokenSale/internal/store"
	"DTokenSale/internal/vesting"
)

func TestBuyNativeThenClaimSchedule(t *testing.T) {
	f := newFixture(t)

	order := f.buyNative(alice, tokens(t, "1"))
	require.Equal(t, uint64(1), order.ID)
	require.Equal(t, tokens(t, "6000"), order.TotalAmount)
	require.Equal(t, genesisTime, order.StartTime)
	require.Equal(t, tokens(t, "9"), f.balance(native, alice))
	require.Equal(t, tokens(t, "1"), f.balance(native, custody))
	require.Equal(t, 0, f.balance(sale, alice).Sign())

	_, err := f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.ErrorIs(t, err, models.ErrStillLocked)

	f.now = genesisTime + vesting.Cliff + vesting.Month - 1
	_, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.ErrorIs(t, err, models.ErrStillLocked)

	f.now = genesisTime + vesting.Cliff + vesting.Month
	got, err := f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "600"), got)
	require.Equal(t, tokens(t, "600"), f.balance(sale, alice))

	_, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.ErrorIs(t, err, models.ErrStillLocked)

	f.now = genesisTime + vesting.Cliff + 3*vesting.Month
	claimable, err := f.engine.Claimable(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "1200"), claimable)

	f.now = genesisTime + vesting.Cliff + 10*vesting.Month
	got, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "5400"), got)
	require.Equal(t, tokens(t, "6000"), f.balance(sale, alice))

	_, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.ErrorIs(t, err, models.ErrStillLocked)

	view, err := f.engine.OrderDetails(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.TotalAmount, view.Order.ClaimedAmount)
	require.Equal(t, int64(0), view.NextUnlock)

	require.Equal(t, []string{
		events.TypeOrderCreated,
		events.TypeTokensClaimed,
		events.TypeTokensClaimed,
	}, f.sink.types())
}

func TestBuyWithTokenThenSellForStablePayout(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Buy(f.ctx, BuyRequest{Caller: alice, Asset: usdt, Amount: tokens(t, "50")})
	require.ErrorIs(t, err, models.ErrAllowanceMissing)

	require.NoError(t, f.engine.Approve(f.ctx, alice, usdt, tokens(t, "50")))
	order, err := f.engine.Buy(f.ctx, BuyRequest{Caller: alice, Asset: usdt, Amount: tokens(t, "50")})
	require.NoError(t, err)
	require.Equal(t, tokens(t, "500"), order.TotalAmount)
	require.Equal(t, tokens(t, "950"), f.balance(usdt, alice))

	allowance, err := f.engine.Allowance(f.ctx, usdt, alice)
	require.NoError(t, err)
	require.Equal(t, 0, allowance.Sign())

	require.NoError(t, f.engine.DepositLiquidity(f.ctx, owner, usdt, tokens(t, "10000")))

	f.now = genesisTime + vesting.Cliff + 10*vesting.Month
	_, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)

	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: order.ID, Asset: usdt, Amount: tokens(t, "500")})
	require.ErrorIs(t, err, models.ErrAllowanceMissing)

	require.NoError(t, f.engine.Approve(f.ctx, alice, sale, tokens(t, "500")))
	payout, err := f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: order.ID, Asset: usdt, Amount: tokens(t, "500")})
	require.NoError(t, err)
	require.Equal(t, tokens(t, "50"), payout)

	require.Equal(t, tokens(t, "1000"), f.balance(usdt, alice))
	require.Equal(t, 0, f.balance(sale, alice).Sign())
	require.Equal(t, tokens(t, "1000000"), f.balance(sale, custody))

	view, err := f.engine.OrderDetails(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 0, view.Order.ClaimedAmount.Sign())
	require.Equal(t, tokens(t, "500"), view.Order.SoldAmount)
	require.Equal(t, 0, view.Claimable.Sign())

	_, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.ErrorIs(t, err, models.ErrStillLocked)
}

func TestSellIsScopedPerOrder(t *testing.T) {
	f := newFixture(t)
	first := f.buyNative(alice, tokens(t, "1"))
	second := f.buyNative(alice, tokens(t, "1"))
	require.Equal(t, uint64(2), second.ID)

	f.now = genesisTime + vesting.Cliff + vesting.Month
	for _, id := range []uint64{first.ID, second.ID} {
		_, err := f.engine.ClaimTokens(f.ctx, alice, id)
		require.NoError(t, err)
	}
	require.Equal(t, tokens(t, "1200"), f.balance(sale, alice))
	require.NoError(t, f.engine.Approve(f.ctx, alice, sale, tokens(t, "1200")))

	_, err := f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: first.ID, Asset: native, Amount: tokens(t, "601")})
	require.ErrorIs(t, err, models.ErrInsufficientUnlockedBalance)

	payout, err := f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: first.ID, Asset: native, Amount: tokens(t, "600")})
	require.NoError(t, err)
	require.Equal(t, tokens(t, "0.1"), payout)

	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: first.ID, Asset: native, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, models.ErrInsufficientUnlockedBalance)
}

func TestSellRollsBackWhenCustodyIsShort(t *testing.T) {
	f := newFixture(t)
	dai := common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	f.oracles.Register("dai-usd", pricing.NewStaticFeed(big.NewInt(100000000), 8))
	require.NoError(t, f.engine.RegisterAsset(f.ctx, admin, dai, "dai-usd"))

	order := f.buyNative(alice, tokens(t, "1"))
	f.now = genesisTime + vesting.Cliff + vesting.Month
	_, err := f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Approve(f.ctx, alice, sale, tokens(t, "600")))

	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: order.ID, Asset: models.Fungible(dai), Amount: tokens(t, "100")})
	require.ErrorIs(t, err, models.ErrInsufficientLiquidity)

	require.Equal(t, tokens(t, "600"), f.balance(sale, alice))
	allowance, err := f.engine.Allowance(f.ctx, sale, alice)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "600"), allowance)
	view, err := f.engine.OrderDetails(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "600"), view.Order.ClaimedAmount)
	require.Equal(t, 0, view.Order.SoldAmount.Sign())
}

// failingPayout lets the token pull succeed and fails the payout leg.
type failingPayout struct {
	payments.Ledger
}

var errPayoutFailed = errors.New("payout leg failed")

func (f failingPayout) Transfer(asset models.Asset, from, to common.Address, amount *big.Int) error {
	if asset.IsNative() && from == custody {
		return errPayoutFailed
	}
	return f.Ledger.Transfer(asset, from, to, amount)
}

func TestSellIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	order := f.buyNative(alice, tokens(t, "1"))
	f.now = genesisTime + vesting.Cliff + vesting.Month
	_, err := f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Approve(f.ctx, alice, sale, tokens(t, "600")))

	f.open(func(tx store.Tx) payments.Ledger { return failingPayout{payments.NewBook(tx)} })
	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: order.ID, Asset: native, Amount: tokens(t, "600")})
	require.ErrorIs(t, err, errPayoutFailed)
	require.Empty(t, f.sink.got)

	require.Equal(t, tokens(t, "600"), f.balance(sale, alice))
	require.Equal(t, tokens(t, "1"), f.balance(native, custody))
	view, err := f.engine.OrderDetails(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "600"), view.Order.ClaimedAmount)
}

func TestBuyRejections(t *testing.T) {
	f := newFixture(t)
	unknown := models.Fungible(common.HexToAddress("0x1234"))

	cases := []struct {
		name string
		req  BuyRequest
		want error
	}{
		{"unregistered asset", BuyRequest{Caller: alice, Asset: unknown, Amount: big.NewInt(1)}, models.ErrUnsupportedAsset},
		{"invalid asset", BuyRequest{Caller: alice, Asset: models.Asset{Kind: "bogus"}, Amount: big.NewInt(1)}, models.ErrUnsupportedAsset},
		{"zero amount", BuyRequest{Caller: alice, Asset: native, Amount: big.NewInt(0), Value: big.NewInt(0)}, models.ErrZeroPayment},
		{"value mismatch", BuyRequest{Caller: alice, Asset: native, Amount: tokens(t, "1"), Value: tokens(t, "0.5")}, models.ErrZeroPayment},
		{"value on token payment", BuyRequest{Caller: alice, Asset: usdt, Amount: tokens(t, "1"), Value: big.NewInt(1)}, models.ErrZeroPayment},
		{"unfunded buyer", BuyRequest{Caller: bob, Asset: native, Amount: tokens(t, "1"), Value: tokens(t, "1")}, models.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Buy(f.ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	next, err := f.engine.CurrentOrderID(f.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)
	require.Equal(t, tokens(t, "10"), f.balance(native, alice))
	require.Empty(t, f.sink.got)
}

func TestBuyRejectsPaymentWorthNoTokens(t *testing.T) {
	f := newFixture(t)
	dust := common.HexToAddress("0x00000000000000000000000000000000000d057")
	f.oracles.Register("dust-usd", pricing.NewStaticFeed(big.NewInt(1), 8))
	require.NoError(t, f.engine.RegisterAsset(f.ctx, admin, dust, "dust-usd"))
	require.NoError(t, f.engine.Approve(f.ctx, alice, models.Fungible(dust), big.NewInt(1)))

	_, err := f.engine.Buy(f.ctx, BuyRequest{Caller: alice, Asset: models.Fungible(dust), Amount: big.NewInt(1)})
	require.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestBuyFailsWhenOracleIsUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetNativeOracle(f.ctx, admin, "eth-usd"))

	_, err := f.engine.Buy(f.ctx, BuyRequest{Caller: alice, Asset: native, Amount: tokens(t, "1"), Value: tokens(t, "1")})
	require.ErrorIs(t, err, models.ErrOracleUnavailable)
	require.Equal(t, tokens(t, "10"), f.balance(native, alice))
}

func TestClaimAndSellOwnership(t *testing.T) {
	f := newFixture(t)
	order := f.buyNative(alice, tokens(t, "1"))
	f.now = genesisTime + vesting.Cliff + vesting.Month

	_, err := f.engine.ClaimTokens(f.ctx, bob, order.ID)
	require.ErrorIs(t, err, models.ErrNotOrderOwner)
	_, err = f.engine.ClaimTokens(f.ctx, alice, 99)
	require.ErrorIs(t, err, models.ErrOrderNotFound)

	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: order.ID, Asset: native, Amount: big.NewInt(0)})
	require.ErrorIs(t, err, models.ErrInvalidAmount)
	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: bob, OrderID: order.ID, Asset: native, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, models.ErrNotOrderOwner)
	_, err = f.engine.SellToken(f.ctx, SellRequest{Caller: alice, OrderID: 42, Asset: native, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestOrderIDsAreDenseUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	const buyers = 20

	var wg sync.WaitGroup
	ids := make(chan uint64, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := f.engine.Buy(f.ctx, BuyRequest{Caller: alice, Asset: native, Amount: tokens(t, "0.01"), Value: tokens(t, "0.01")})
			if err == nil {
				ids <- order.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
	require.Len(t, seen, buyers)
	for id := uint64(1); id <= buyers; id++ {
		require.True(t, seen[id], "missing order %d", id)
	}

	list, err := f.engine.OrdersOf(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, buyers)
	sold, err := f.engine.SoldTokens(f.ctx)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "1200"), sold)
}

func TestDepositLiquidity(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.DepositLiquidity(f.ctx, owner, native, big.NewInt(0)), models.ErrInvalidAmount)
	require.ErrorIs(t, f.engine.DepositLiquidity(f.ctx, bob, native, big.NewInt(1)), models.ErrInsufficientBalance)
	require.NoError(t, f.engine.DepositLiquidity(f.ctx, owner, native, tokens(t, "5")))
	require.Equal(t, tokens(t, "5"), f.balance(native, custody))
	require.Equal(t, []string{events.TypeLiquidityDeposited}, f.sink.types())
}
