package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Amounts stay strings so the file carries the exact decimal values.
type parquetRow struct {
	DistributionID string `parquet:"name=distribution_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	HarvestID      string `parquet:"name=harvest_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	GroveID        string `parquet:"name=grove_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset          string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Holder         string `parquet:"name=holder, type=BYTE_ARRAY, convertedtype=UTF8"`
	Balance        string `parquet:"name=balance, type=BYTE_ARRAY, convertedtype=UTF8"`
	Share          string `parquet:"name=share, type=BYTE_ARRAY, convertedtype=UTF8"`
	SharePercent   string `parquet:"name=share_percent, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status         string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attempts       int32  `parquet:"name=attempts, type=INT32"`
	GeneratedAt    string `parquet:"name=generated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// PayoutsParquet builds a snappy-compressed Parquet export and returns it with
// its checksum.
func PayoutsParquet(rows []PayoutRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			DistributionID: row.DistributionID,
			HarvestID:      row.HarvestID,
			GroveID:        row.GroveID,
			Asset:          row.Asset,
			Holder:         row.Holder,
			Balance:        row.Balance,
			Share:          row.Share,
			SharePercent:   row.SharePercent,
			Status:         row.Status,
			Attempts:       int32(row.Attempts),
			GeneratedAt:    row.GeneratedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
