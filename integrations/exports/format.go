package exports

import (
	"fmt"
	"strings"
)

// Format selects an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a format name, defaulting to CSV when empty.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSONL, "ndjson":
		return FormatJSONL, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("exports: unsupported format %q", value)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// Encode renders rows in the format.
func (f Format) Encode(rows []PayoutRow) ([]byte, string, error) {
	switch f {
	case FormatJSONL:
		return PayoutsJSONL(rows)
	case FormatParquet:
		return PayoutsParquet(rows)
	default:
		return PayoutsCSV(rows)
	}
}
