package common

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGuardHonoursPauses(t *testing.T) {
	pauses := NewPauses("lending")
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "distribution"); err != nil {
		t.Fatalf("unexpected error for unpaused module: %v", err)
	}
	pauses.Set(" Lending ", false)
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("expected resume to clear pause, got %v", err)
	}
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	var locks KeyedMutex
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("pool:USDC")
			defer unlock()
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()
	if counter != 64 {
		t.Fatalf("expected 64 increments, got %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", locks.Len())
	}
}

func TestKeyedMutexUnlockIsIdempotent(t *testing.T) {
	var locks KeyedMutex
	unlock := locks.Lock("a")
	unlock()
	unlock()
	relock := locks.Lock("a")
	relock()
}

func TestParseAmount(t *testing.T) {
	value, err := ParseAmount(" 1250.50 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !value.Equal(decimal.RequireFromString("1250.5")) {
		t.Fatalf("unexpected value %s", value)
	}
	for _, raw := range []string{"", "abc", "NaN", "1e"} {
		if _, err := ParseAmount(raw); !errors.Is(err, ErrInvalidDecimal) {
			t.Fatalf("expected ErrInvalidDecimal for %q, got %v", raw, err)
		}
	}
	if _, err := ParsePositive("0"); !errors.Is(err, ErrInvalidDecimal) {
		t.Fatalf("expected zero to be rejected, got %v", err)
	}
	if _, err := ParsePositive("-3"); !errors.Is(err, ErrInvalidDecimal) {
		t.Fatalf("expected negative to be rejected, got %v", err)
	}
}

func TestMulDivFloorRoundsDown(t *testing.T) {
	got := MulDivFloor(decimal.NewFromInt(7000), decimal.NewFromInt(100), decimal.NewFromInt(1000), 0)
	if !got.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected 700, got %s", got)
	}
	got = MulDivFloor(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(3), 2)
	if !got.Equal(decimal.RequireFromString("33.33")) {
		t.Fatalf("expected 33.33, got %s", got)
	}
	got = MulDivFloor(decimal.RequireFromString("0.99999999999999999999"), decimal.NewFromInt(1), decimal.NewFromInt(1), 0)
	if !got.IsZero() {
		t.Fatalf("expected truncation to zero, got %s", got)
	}
	if !MulDivFloor(decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, 0).IsZero() {
		t.Fatalf("expected zero for non-positive divisor")
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(decimal.NewFromInt(25), decimal.NewFromInt(200)); !got.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected 12.5, got %s", got)
	}
	if got := Percent(decimal.NewFromInt(5), decimal.Zero); !got.IsZero() {
		t.Fatalf("expected 0 for empty total, got %s", got)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  holder-a ", "holder-a"},
		{"\uff48\uff4f\uff4c\uff44\uff45\uff52-b", "holder-b"},
		{"Farmer-1", "Farmer-1"},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeAddress(tc.in); got != tc.want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
