package services

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"DTokenSale/internal/events"
	"DTokenSale/internal/models"
	"DTokenSale/internal/vesting"
)

func TestAdminOperationsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.ErrorIs(t, f.engine.ChangeAdmin(f.ctx, owner, bob), models.ErrNotAdmin)
	require.ErrorIs(t, f.engine.SetNativeOracle(f.ctx, alice, "x"), models.ErrNotAdmin)
	require.ErrorIs(t, f.engine.RegisterAsset(f.ctx, bob, token, "x"), models.ErrNotAdmin)
	require.ErrorIs(t, f.engine.ChangeTimeline(f.ctx, alice, 1, 0), models.ErrNotAdmin)
	require.Empty(t, f.sink.got)
}

func TestChangeAdminHandsOverInOneStep(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.engine.ChangeAdmin(f.ctx, admin, common.Address{}), models.ErrInvalidAccount)
	require.NoError(t, f.engine.ChangeAdmin(f.ctx, admin, bob))
	require.ErrorIs(t, f.engine.ChangeAdmin(f.ctx, admin, admin), models.ErrNotAdmin)

	cfg, err := f.engine.Config(f.ctx)
	require.NoError(t, err)
	require.Equal(t, bob, cfg.Admin)
	require.Equal(t, owner, cfg.Owner)

	require.Len(t, f.sink.got, 1)
	ev := f.sink.got[0]
	require.Equal(t, events.TypeAdminChanged, ev.Type)
	require.Equal(t, bob.Hex(), ev.Attributes["admin"])
	require.Equal(t, admin.Hex(), ev.Attributes["by"])
}

func TestRegisterAssetAndNativeOracle(t *testing.T) {
	f := newFixture(t)
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.ErrorIs(t, f.engine.RegisterAsset(f.ctx, admin, common.Address{}, "x"), models.ErrUnsupportedAsset)
	require.ErrorIs(t, f.engine.RegisterAsset(f.ctx, admin, token, "  "), models.ErrOracleUnavailable)
	require.ErrorIs(t, f.engine.SetNativeOracle(f.ctx, admin, ""), models.ErrOracleUnavailable)

	require.NoError(t, f.engine.RegisterAsset(f.ctx, admin, token, "aa-usd"))
	require.NoError(t, f.engine.RegisterAsset(f.ctx, admin, usdtTok, "usdt-usd-v2"))
	require.NoError(t, f.engine.SetNativeOracle(f.ctx, admin, "bnb-usd-v2"))

	assets, err := f.engine.Assets(f.ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []models.AcceptedAsset{
		{Token: token, OracleID: "aa-usd"},
		{Token: usdtTok, OracleID: "usdt-usd-v2"},
	}, assets)

	cfg, err := f.engine.Config(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "bnb-usd-v2", cfg.NativeOracle)
}

func TestChangeTimelineClampsClaimable(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.ChangeTimeline(f.ctx, admin, 7, 0), models.ErrOrderNotFound)

	order := f.buyNative(alice, tokens(t, "1"))
	f.now = genesisTime + vesting.Cliff + 2*vesting.Month
	_, err := f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.ChangeTimeline(f.ctx, admin, order.ID, f.now))
	view, err := f.engine.OrderDetails(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, f.now, view.Order.StartTime)
	require.Equal(t, 0, view.Claimable.Sign())
	require.Equal(t, tokens(t, "1200"), view.Order.ClaimedAmount)

	_, err = f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.ErrorIs(t, err, models.ErrStillLocked)

	require.NoError(t, f.engine.ChangeTimeline(f.ctx, admin, order.ID, f.now-vesting.Cliff-5*vesting.Month))
	got, err := f.engine.ClaimTokens(f.ctx, alice, order.ID)
	require.NoError(t, err)
	require.Equal(t, tokens(t, "1800"), got)
}
