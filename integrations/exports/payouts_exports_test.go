package exports

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
)

func sampleSummary() *distribution.Summary {
	return &distribution.Summary{
		Distribution: &distribution.Distribution{
			ID:        "dist-1",
			HarvestID: "harvest-1",
			GroveID:   "grove-a",
			Asset:     "USDC",
		},
		Holders: []distribution.HolderSummary{
			{Address: "alice", Balance: decimal.NewFromInt(60), Share: decimal.RequireFromString("420"), SharePercent: decimal.NewFromInt(60), Claimed: true, Attempts: 1},
			{Address: "bob", Balance: decimal.NewFromInt(40), Share: decimal.RequireFromString("280"), SharePercent: decimal.NewFromInt(40), Failed: true, Attempts: 3},
		},
	}
}

func sampleRows() []PayoutRow {
	return Rows(sampleSummary(), time.Unix(1700, 0).UTC())
}

func TestRowsStatus(t *testing.T) {
	rows := sampleRows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Status != "paid" || rows[1].Status != "failed" {
		t.Fatalf("unexpected statuses: %s, %s", rows[0].Status, rows[1].Status)
	}
	if rows[0].SharePercent != "60.00" {
		t.Fatalf("unexpected share percent %s", rows[0].SharePercent)
	}
	if Rows(nil, time.Time{}) != nil {
		t.Fatalf("expected nil rows for nil summary")
	}
}

func TestPayoutsCSV(t *testing.T) {
	data, checksum, err := PayoutsCSV(sampleRows())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.HasPrefix(output, "distribution_id,harvest_id,grove_id,asset,holder,balance,share,share_percent,status,attempts,generated_at") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "bob,40,280,40.00,failed,3") {
		t.Fatalf("missing holder row: %s", output)
	}
	_, again, _ := PayoutsCSV(sampleRows())
	if again != checksum {
		t.Fatalf("checksum not deterministic")
	}
}

func TestPayoutsJSONL(t *testing.T) {
	data, checksum, err := PayoutsJSONL(sampleRows())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "\"status\":\"paid\"") {
		t.Fatalf("unexpected payload: %s", lines[0])
	}
}

func TestPayoutsParquet(t *testing.T) {
	data, checksum, err := PayoutsParquet(sampleRows())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	magic := []byte("PAR1")
	if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatalf("output is not a parquet file")
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatCSV, "CSV": FormatCSV, "ndjson": FormatJSONL, "parquet": FormatParquet}
	for input, want := range cases {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for xml")
	}
	if FormatParquet.ContentType() == FormatCSV.ContentType() {
		t.Fatalf("content types should differ")
	}
}
