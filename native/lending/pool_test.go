package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestProvideLiquidityMintsShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "USDC", "alice", "10000")
	f.fund(t, "USDC", "bob", "5000")

	shares, err := f.engine.ProvideLiquidity(ctx, "usdc", "alice", dec("10000"))
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	if !shares.Equal(dec("10000")) {
		t.Fatalf("expected 10000 shares into empty pool, got %s", shares)
	}
	shares, err = f.engine.ProvideLiquidity(ctx, "USDC", "bob", dec("5000"))
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	if !shares.Equal(dec("5000")) {
		t.Fatalf("expected 5000 shares, got %s", shares)
	}

	pool := f.pool(t, "USDC")
	if !pool.TotalLiquidity.Equal(dec("15000")) || !pool.TotalLPShares.Equal(dec("15000")) {
		t.Fatalf("unexpected pool totals %+v", pool)
	}
	if pool.CollateralAsset != "COFFEE" {
		t.Fatalf("expected default collateral asset, got %q", pool.CollateralAsset)
	}
	if got := f.balance(t, "USDC", f.engine.Params().PoolAccount("USDC")); !got.Equal(dec("15000")) {
		t.Fatalf("pool account holds %s", got)
	}
	if got := f.balance(t, "USDC", "alice"); !got.IsZero() {
		t.Fatalf("provider balance not debited: %s", got)
	}
}

func TestProvideLiquidityRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.ProvideLiquidity(ctx, "USDC", "alice", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.ProvideLiquidity(ctx, "USDC", "alice", dec("-5")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.ProvideLiquidity(ctx, "USDC", " ", dec("5")); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if _, err := f.engine.ProvideLiquidity(ctx, "USDC", "alice", dec("5")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance for unfunded provider, got %v", err)
	}
	if _, err := f.engine.Pool(ctx, "USDC"); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("failed provision must not create a pool, got %v", err)
	}
}

func TestProvideLiquidityCommitFailureReversesTransfer(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "USDC", "alice", "100")
	f.state.failCommit = errCommit
	if _, err := f.engine.ProvideLiquidity(context.Background(), "USDC", "alice", dec("100")); !errors.Is(err, errCommit) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if got := f.balance(t, "USDC", "alice"); !got.Equal(dec("100")) {
		t.Fatalf("transfer not reversed, alice holds %s", got)
	}
}

func TestWithdrawLiquidityReturnsPrincipalAndRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "USDC", "alice", "10000")
	f.fund(t, "COFFEE", "bob", "100")
	f.fund(t, "USDC", "bob", "800")

	if _, err := f.engine.ProvideLiquidity(ctx, "USDC", "alice", dec("10000")); err != nil {
		t.Fatalf("provide: %v", err)
	}
	if _, err := f.engine.OriginateLoan(ctx, "USDC", "bob", dec("8000"), dec("100")); err != nil {
		t.Fatalf("originate: %v", err)
	}
	if _, err := f.engine.RepayLoan(ctx, "USDC", "bob"); err != nil {
		t.Fatalf("repay: %v", err)
	}

	returned, rewards, err := f.engine.WithdrawLiquidity(ctx, "USDC", "alice", dec("4000"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !returned.Equal(dec("4320")) || !rewards.Equal(dec("320")) {
		t.Fatalf("partial withdraw returned=%s rewards=%s", returned, rewards)
	}
	returned, rewards, err = f.engine.WithdrawLiquidity(ctx, "USDC", "alice", dec("6000"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !returned.Equal(dec("6480")) || !rewards.Equal(dec("480")) {
		t.Fatalf("final withdraw returned=%s rewards=%s", returned, rewards)
	}
	if got := f.balance(t, "USDC", "alice"); !got.Equal(dec("10800")) {
		t.Fatalf("alice holds %s", got)
	}
	view, err := f.engine.Position(ctx, "USDC", "alice")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !view.LPShares.IsZero() {
		t.Fatalf("position should be removed, got %+v", view)
	}
	pool := f.pool(t, "USDC")
	if !pool.TotalLPShares.IsZero() || !pool.TotalLiquidity.IsZero() {
		t.Fatalf("pool should be drained, got %+v", pool)
	}
}

func TestWithdrawLiquidityRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.engine.WithdrawLiquidity(ctx, "USDC", "alice", dec("1")); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected empty pool, got %v", err)
	}

	f.fund(t, "USDC", "alice", "10000")
	f.fund(t, "COFFEE", "bob", "100")
	if _, err := f.engine.ProvideLiquidity(ctx, "USDC", "alice", dec("10000")); err != nil {
		t.Fatalf("provide: %v", err)
	}
	if _, _, err := f.engine.WithdrawLiquidity(ctx, "USDC", "alice", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, _, err := f.engine.WithdrawLiquidity(ctx, "USDC", "alice", dec("10000.5")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, _, err := f.engine.WithdrawLiquidity(ctx, "USDC", "mallory", dec("1")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance for stranger, got %v", err)
	}

	if _, err := f.engine.OriginateLoan(ctx, "USDC", "bob", dec("8000"), dec("100")); err != nil {
		t.Fatalf("originate: %v", err)
	}
	before := f.pool(t, "USDC")
	if _, _, err := f.engine.WithdrawLiquidity(ctx, "USDC", "alice", dec("10000")); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	after := f.pool(t, "USDC")
	if !after.TotalLiquidity.Equal(before.TotalLiquidity) || !after.TotalLPShares.Equal(before.TotalLPShares) {
		t.Fatalf("rejected withdrawal mutated pool: before=%+v after=%+v", before, after)
	}
	if _, _, err := f.engine.WithdrawLiquidity(ctx, "USDC", "alice", dec("2000")); err != nil {
		t.Fatalf("withdrawing available liquidity: %v", err)
	}
	assertPoolInvariant(t, f.pool(t, "USDC"))
}

func TestPoolStatsAndPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "USDC", "alice", "6000")
	f.fund(t, "USDC", "carol", "4000")
	f.fund(t, "COFFEE", "bob", "100")
	f.fund(t, "COFFEE", "dave", "100")
	for provider, amount := range map[string]string{"alice": "6000", "carol": "4000"} {
		if _, err := f.engine.ProvideLiquidity(ctx, "USDC", provider, dec(amount)); err != nil {
			t.Fatalf("provide: %v", err)
		}
	}
	if _, err := f.engine.OriginateLoan(ctx, "USDC", "bob", dec("4000"), dec("100")); err != nil {
		t.Fatalf("originate: %v", err)
	}
	if _, err := f.engine.OriginateLoan(ctx, "USDC", "dave", dec("2000"), dec("100")); err != nil {
		t.Fatalf("originate: %v", err)
	}

	stats, err := f.engine.PoolStats(ctx, "USDC")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Providers != 2 || stats.ActiveLoans != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if !stats.UtilisationRate.Equal(dec("0.6")) {
		t.Fatalf("expected utilisation 0.6, got %s", stats.UtilisationRate)
	}
	if !stats.AvailableLiquidity.Equal(dec("4000")) || !stats.AverageLoanSize.Equal(dec("3000")) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.CurrentAPY.Equal(stats.Pool.BaseAPY) {
		t.Fatalf("without a rate model the APY is the base rate, got %s", stats.CurrentAPY)
	}

	view, err := f.engine.Position(ctx, "USDC", "alice")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !view.SharePercent.Equal(dec("60")) || !view.Value.Equal(dec("6000")) {
		t.Fatalf("unexpected position view %+v", view)
	}
	pools, err := f.engine.ListPools(ctx)
	if err != nil || len(pools) != 1 || pools[0].Asset != "USDC" {
		t.Fatalf("list pools: %v %v", pools, err)
	}
}

func TestInterestModelLiftsAPYWithUtilisation(t *testing.T) {
	model := &InterestModel{Slope1: dec("0.1"), Slope2: dec("0.5"), Kink: dec("0.8")}
	pool := &Pool{TotalLiquidity: dec("100"), TotalBorrowed: dec("50")}
	if got := model.SupplyAPY(dec("0.05"), pool); !got.Equal(dec("0.1")) {
		t.Fatalf("below kink: %s", got)
	}
	pool.TotalBorrowed = dec("90")
	if got := model.SupplyAPY(dec("0.05"), pool); !got.Equal(dec("0.18")) {
		t.Fatalf("above kink: %s", got)
	}
	var none *InterestModel
	if got := none.SupplyAPY(dec("0.05"), pool); !got.Equal(dec("0.05")) {
		t.Fatalf("nil model: %s", got)
	}
}

func TestSharePercent(t *testing.T) {
	if got := SharePercent(dec("250"), dec("1000")); !got.Equal(dec("25")) {
		t.Fatalf("expected 25, got %s", got)
	}
	if got := SharePercent(dec("1"), decimal.Zero); !got.IsZero() {
		t.Fatalf("expected 0 for empty pool, got %s", got)
	}
}
