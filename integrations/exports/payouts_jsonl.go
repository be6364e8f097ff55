package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// PayoutsJSONL builds a JSON Lines export for the supplied rows and returns
// the serialised payload alongside a checksum.
func PayoutsJSONL(rows []PayoutRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"distribution_id": row.DistributionID,
			"harvest_id":      row.HarvestID,
			"grove_id":        row.GroveID,
			"asset":           row.Asset,
			"holder":          row.Holder,
			"balance":         row.Balance,
			"share":           row.Share,
			"share_percent":   row.SharePercent,
			"status":          row.Status,
			"attempts":        row.Attempts,
			"generated_at":    row.GeneratedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
