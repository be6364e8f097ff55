package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
)

func TestLendingStoreCommitAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewLendingStore()

	pool, err := store.Pool(ctx, "USDC")
	require.NoError(t, err)
	require.Nil(t, pool)

	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.Commit(ctx, lending.Batch{
		Pool:     &lending.Pool{Asset: "USDC", TotalLiquidity: decimal.NewFromInt(1000), TotalLPShares: decimal.NewFromInt(1000)},
		Position: &lending.Position{Asset: "USDC", Provider: "alice", LPShares: decimal.NewFromInt(1000), Deposited: decimal.NewFromInt(1000)},
		Loan:     &lending.Loan{ID: "loan-1", Asset: "USDC", Borrower: "bob", Status: lending.LoanActive, OriginatedAt: now},
	}))

	pool, err = store.Pool(ctx, "USDC")
	require.NoError(t, err)
	require.True(t, pool.TotalLiquidity.Equal(decimal.NewFromInt(1000)))

	pool.TotalLiquidity = decimal.Zero
	again, _ := store.Pool(ctx, "USDC")
	require.True(t, again.TotalLiquidity.Equal(decimal.NewFromInt(1000)), "stored pool mutated through clone")

	loan, err := store.ActiveLoan(ctx, "USDC", "bob")
	require.NoError(t, err)
	require.Equal(t, "loan-1", loan.ID)

	closed := now.Add(time.Hour)
	loan.Status = lending.LoanRepaid
	loan.ClosedAt = &closed
	require.NoError(t, store.Commit(ctx, lending.Batch{Loan: loan}))

	loan, err = store.ActiveLoan(ctx, "USDC", "bob")
	require.NoError(t, err)
	require.Nil(t, loan)

	repaid, err := store.Loans(ctx, "USDC", lending.LoanRepaid)
	require.NoError(t, err)
	require.Len(t, repaid, 1)

	require.NoError(t, store.Commit(ctx, lending.Batch{
		Position:       &lending.Position{Asset: "USDC", Provider: "alice"},
		DeletePosition: true,
	}))
	positions, err := store.Positions(ctx, "USDC")
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestLendingStoreRejectsCancelledCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewLendingStore()
	err := store.Commit(ctx, lending.Batch{Pool: &lending.Pool{Asset: "USDC"}})
	require.ErrorIs(t, err, context.Canceled)
	pools, _ := store.Pools(context.Background())
	require.Empty(t, pools)
}

func TestDistributionStoreOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewDistributionStore()
	now := time.Unix(1_700_000_000, 0).UTC()

	for i, harvest := range []string{"h-1", "h-2"} {
		d := &distribution.Distribution{
			ID:        "d-" + harvest,
			HarvestID: harvest,
			GroveID:   "grove",
			Status:    distribution.StatusPending,
			Holders:   []distribution.Holder{{Address: "alice", Balance: decimal.NewFromInt(1)}, {Address: "bob", Balance: decimal.NewFromInt(1)}},
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Commit(ctx, distribution.Batch{
			Distribution: d,
			Claims: []*distribution.Claim{
				{DistributionID: d.ID, Holder: "bob", Share: decimal.NewFromInt(5)},
				{DistributionID: d.ID, Holder: "alice", Share: decimal.NewFromInt(5)},
			},
		}))
	}

	list, err := store.Distributions(ctx, distribution.Filter{GroveID: "grove"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "h-1", list[0].HarvestID)

	claims, err := store.Claims(ctx, "d-h-1")
	require.NoError(t, err)
	require.Equal(t, "bob", claims[0].Holder)

	held, err := store.HolderClaims(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, held, 2)

	byHarvest, err := store.DistributionByHarvest(ctx, "h-2")
	require.NoError(t, err)
	require.Equal(t, "d-h-2", byHarvest.ID)

	err = store.Commit(ctx, distribution.Batch{Distribution: &distribution.Distribution{ID: "other", HarvestID: "h-1"}})
	require.Error(t, err)

	pending, err := store.Distributions(ctx, distribution.Filter{Status: distribution.StatusCompleted})
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDistributionStoreWithdrawals(t *testing.T) {
	ctx := context.Background()
	store := NewDistributionStore()
	require.NoError(t, store.Commit(ctx, distribution.Batch{Withdrawal: &distribution.Withdrawal{ID: "w-1", GroveID: "g1", Farmer: "f", Amount: decimal.NewFromInt(3)}}))
	require.NoError(t, store.Commit(ctx, distribution.Batch{Withdrawal: &distribution.Withdrawal{ID: "w-2", GroveID: "g2", Farmer: "f", Amount: decimal.NewFromInt(4)}}))

	list, err := store.Withdrawals(ctx, distribution.WithdrawalFilter{GroveID: "g2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "w-2", list[0].ID)

	list, err = store.Withdrawals(ctx, distribution.WithdrawalFilter{Farmer: "f"})
	require.NoError(t, err)
	require.Len(t, list, 2)
}

// cancelAfterPayment cancels the caller's context once target has been paid.
type cancelAfterPayment struct {
	*ledger.Memory
	target string
	cancel context.CancelFunc
}

func (c *cancelAfterPayment) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	if err := c.Memory.Transfer(ctx, asset, from, to, amount); err != nil {
		return err
	}
	if to == c.target && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

func TestDistributionPayoutSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	led := &cancelAfterPayment{Memory: ledger.NewMemory(), target: "holder-002", cancel: cancel}
	engine, err := distribution.NewEngine(NewDistributionStore(), led)
	require.NoError(t, err)

	holders := make([]distribution.Holder, 0, 5)
	for i := 0; i < 5; i++ {
		holders = append(holders, distribution.Holder{Address: fmt.Sprintf("holder-%03d", i), Balance: decimal.NewFromInt(1)})
	}
	d, created, err := engine.CreateDistribution(context.Background(), distribution.CreateRequest{
		HarvestID:     "harvest-1",
		GroveID:       "grove-1",
		FarmerAddress: "farmer-1",
		TotalRevenue:  decimal.NewFromInt(1000),
		Holders:       holders,
		TotalSupply:   decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = engine.ProcessBatch(ctx, d.ID, 10)
	require.ErrorIs(t, err, context.Canceled)

	run, err := engine.Run(context.Background(), d.ID, 10)
	require.NoError(t, err)
	require.True(t, run.Completed)

	asset := engine.Params().Asset
	for _, holder := range holders {
		balance, err := led.BalanceOf(context.Background(), asset, holder.Address)
		require.NoError(t, err)
		require.True(t, balance.Equal(decimal.NewFromInt(140)), "%s received %s", holder.Address, balance)
	}
}
