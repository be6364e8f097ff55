package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"
)

// PayoutsCSV builds a CSV export for the supplied rows and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func PayoutsCSV(rows []PayoutRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"distribution_id", "harvest_id", "grove_id", "asset", "holder", "balance", "share", "share_percent", "status", "attempts", "generated_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			row.DistributionID,
			row.HarvestID,
			row.GroveID,
			row.Asset,
			row.Holder,
			row.Balance,
			row.Share,
			row.SharePercent,
			row.Status,
			strconv.Itoa(row.Attempts),
			row.GeneratedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
