package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
	_, err = Open(DriverSQLite, " ")
	require.Error(t, err)
}

func TestLendingRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLending(setupTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	missing, err := store.Pool(ctx, "USDC")
	require.NoError(t, err)
	require.Nil(t, missing)

	pool := &lending.Pool{
		Asset:           "USDC",
		CollateralAsset: "COFFEE",
		TotalLiquidity:  dec(t, "1000.12345678"),
		TotalLPShares:   dec(t, "1000.123456789012345678"),
		TotalBorrowed:   decimal.Zero,
		BaseAPY:         dec(t, "0.085"),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.Commit(ctx, lending.Batch{
		Pool:     pool,
		Position: &lending.Position{Asset: "USDC", Provider: "alice", LPShares: pool.TotalLPShares, Deposited: pool.TotalLiquidity, UpdatedAt: now},
	}))

	loaded, err := store.Pool(ctx, "USDC")
	require.NoError(t, err)
	require.True(t, loaded.TotalLPShares.Equal(pool.TotalLPShares), "share precision lost: %s", loaded.TotalLPShares)
	require.True(t, loaded.CreatedAt.Equal(now))

	pool.TotalBorrowed = dec(t, "400")
	loan := &lending.Loan{
		ID:               "loan-1",
		Asset:            "USDC",
		Borrower:         "bob",
		LoanAmount:       dec(t, "400"),
		CollateralAsset:  "COFFEE",
		CollateralAmount: dec(t, "100"),
		RepaymentAmount:  dec(t, "440"),
		Status:           lending.LoanActive,
		OriginatedAt:     now,
		DueAt:            now.Add(180 * 24 * time.Hour),
	}
	require.NoError(t, store.Commit(ctx, lending.Batch{Pool: pool, Loan: loan}))

	active, err := store.ActiveLoan(ctx, "USDC", "bob")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.True(t, active.RepaymentAmount.Equal(dec(t, "440")))
	require.Nil(t, active.ClosedAt)

	closed := now.Add(time.Hour)
	active.Status = lending.LoanRepaid
	active.ClosedAt = &closed
	require.NoError(t, store.Commit(ctx, lending.Batch{Loan: active}))

	active, err = store.ActiveLoan(ctx, "USDC", "bob")
	require.NoError(t, err)
	require.Nil(t, active)

	loans, err := store.Loans(ctx, "USDC", "")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Equal(t, lending.LoanRepaid, loans[0].Status)
	require.NotNil(t, loans[0].ClosedAt)

	require.NoError(t, store.Commit(ctx, lending.Batch{
		Position:       &lending.Position{Asset: "USDC", Provider: "alice"},
		DeletePosition: true,
	}))
	position, err := store.Position(ctx, "USDC", "alice")
	require.NoError(t, err)
	require.Nil(t, position)
}

func TestDistributionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewDistributions(setupTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := &distribution.Distribution{
		ID:            "dist-1",
		HarvestID:     "harvest-1",
		GroveID:       "grove-a",
		Asset:         "USDC",
		FarmerAddress: "farmer",
		TotalRevenue:  dec(t, "1000"),
		FarmerShare:   dec(t, "300"),
		InvestorShare: dec(t, "700"),
		TotalSupply:   dec(t, "100"),
		Status:        distribution.StatusPending,
		Holders: []distribution.Holder{
			{Address: "zed", Balance: dec(t, "60")},
			{Address: "amy", Balance: dec(t, "40")},
		},
		CreatedAt: now,
	}
	claims := []*distribution.Claim{
		{DistributionID: d.ID, Holder: "zed", Share: dec(t, "420"), UpdatedAt: now},
		{DistributionID: d.ID, Holder: "amy", Share: dec(t, "280"), UpdatedAt: now},
	}
	require.NoError(t, store.Commit(ctx, distribution.Batch{Distribution: d, Claims: claims}))

	loaded, err := store.DistributionByHarvest(ctx, "harvest-1")
	require.NoError(t, err)
	require.Equal(t, d.ID, loaded.ID)
	require.Equal(t, "zed", loaded.Holders[0].Address)
	require.Equal(t, "amy", loaded.Holders[1].Address)

	ordered, err := store.Claims(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"zed", "amy"}, []string{ordered[0].Holder, ordered[1].Holder})

	paid := now.Add(time.Minute)
	claim := ordered[0]
	claim.Claimed = true
	claim.ClaimedAt = &paid
	claim.Attempts = 1
	next := loaded.Clone()
	next.Cursor = 1
	require.NoError(t, store.Commit(ctx, distribution.Batch{Distribution: next, Claims: []*distribution.Claim{claim}}))

	reloaded, err := store.Distribution(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Cursor)
	require.Len(t, reloaded.Holders, 2, "holder snapshot rewritten")

	stored, err := store.Claim(ctx, d.ID, "zed")
	require.NoError(t, err)
	require.True(t, stored.Claimed)
	require.Equal(t, 1, stored.Attempts)

	held, err := store.HolderClaims(ctx, "amy")
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.False(t, held[0].Claimed)

	dup := d.Clone()
	dup.ID = "dist-2"
	require.Error(t, store.Commit(ctx, distribution.Batch{Distribution: dup}))

	list, err := store.Distributions(ctx, distribution.Filter{GroveID: "grove-a", Status: distribution.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.Commit(ctx, distribution.Batch{Withdrawal: &distribution.Withdrawal{
		ID: "w-1", GroveID: "grove-a", Farmer: "farmer", Asset: "USDC", Amount: dec(t, "120.5"), WithdrawnAt: now,
	}}))
	withdrawals, err := store.Withdrawals(ctx, distribution.WithdrawalFilter{GroveID: "grove-a"})
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	require.True(t, withdrawals[0].Amount.Equal(dec(t, "120.5")))
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := NewDistributions(setupTestDB(t))
	require.NoError(t, store.Commit(ctx, distribution.Batch{Withdrawal: &distribution.Withdrawal{ID: "w-1", GroveID: "g", Farmer: "f", Amount: decimal.NewFromInt(1)}}))

	err := store.Commit(ctx, distribution.Batch{
		Claims:     []*distribution.Claim{{DistributionID: "d", Holder: "h", Share: decimal.NewFromInt(1)}},
		Withdrawal: &distribution.Withdrawal{ID: "w-1", GroveID: "g", Farmer: "f", Amount: decimal.NewFromInt(1)},
	})
	require.Error(t, err)

	claim, err := store.Claim(ctx, "d", "h")
	require.NoError(t, err)
	require.Nil(t, claim, "claim from failed batch persisted")
}
