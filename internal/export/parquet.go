package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tagbase/stepselect/internal/steps"
)

type designParquetRow struct {
	StratumID    int64   `parquet:"name=stratum_id, type=INT64"`
	ID           string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TimeUTCISO   string  `parquet:"name=time_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	XEnd         float64 `parquet:"name=x_end, type=DOUBLE"`
	YEnd         float64 `parquet:"name=y_end, type=DOUBLE"`
	HeadingStep  float64 `parquet:"name=heading_step, type=DOUBLE"`
	LogL         float64 `parquet:"name=log_l, type=DOUBLE"`
	LogL2        float64 `parquet:"name=log_l2, type=DOUBLE"`
	CosTurn      float64 `parquet:"name=cos_turn, type=DOUBLE"`
	IsUsed       int32   `parquet:"name=is_used, type=INT32"`
	NNDist       float64 `parquet:"name=nn_dist, type=DOUBLE"`
	NForward     float64 `parquet:"name=n_forward, type=DOUBLE"`
	NBehind      float64 `parquet:"name=n_behind, type=DOUBLE"`
	AheadAny     float64 `parquet:"name=ahead_any, type=DOUBLE"`
	BehindAny    float64 `parquet:"name=behind_any, type=DOUBLE"`
	MeanAlignFwd float64 `parquet:"name=mean_align_fwd, type=DOUBLE"`
	RelSpeedFwd  float64 `parquet:"name=rel_speed_fwd, type=DOUBLE"`
	SexM         float64 `parquet:"name=sex_m, type=DOUBLE"`
}

// WriteParquet writes the design table as a Snappy-compressed Parquet
// file. Passthrough covariates are not included; the CSV is the
// lossless export.
func WriteParquet(path string, rows []steps.Row) error {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(designParquetRow), 4)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		r := &rows[i]
		row := designParquetRow{
			StratumID:    r.StratumID,
			ID:           r.ID,
			TimeUTCISO:   r.Time.UTC().Format(time.RFC3339),
			XEnd:         r.XEnd,
			YEnd:         r.YEnd,
			HeadingStep:  r.Heading,
			LogL:         r.LogL,
			LogL2:        r.LogL2,
			CosTurn:      r.CosTurn,
			IsUsed:       int32(r.IsUsed),
			NNDist:       r.NNDist,
			NForward:     r.NForward,
			NBehind:      r.NBehind,
			AheadAny:     r.AheadAny,
			BehindAny:    r.BehindAny,
			MeanAlignFwd: r.MeanAlignFwd,
			RelSpeedFwd:  r.RelSpeedFwd,
			SexM:         r.SexM,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet finalize: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet buffer: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, fw.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
