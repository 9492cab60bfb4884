package server

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/logging"
)

// =============================================================================
// CSV Export: GET /readings/csv
// =============================================================================

// handleCSV streams the full history as CSV: a header row followed by one
// line per reading, oldest first. Rows are flushed in batches so exports of
// arbitrarily large histories never buffer in full.
func (h *handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	stream, err := h.st.StreamAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=sensorlog_readings.csv`)

	cw := csv.NewWriter(w)
	flusher, _ := w.(http.Flusher)

	header := append([]string{"id", "timestamp"}, h.reg.Fields()...)
	if err := cw.Write(header); err != nil {
		return
	}

	record := make([]string, len(header))
	written := 0

	for {
		row, ok := stream.Next()
		if !ok {
			break
		}

		record[0] = strconv.FormatInt(row.ID, 10)
		record[1] = row.Timestamp.Format("2006-01-02 15:04:05")
		for i, v := range row.Values {
			if v.Valid {
				record[i+2] = strconv.FormatFloat(v.Float64, 'f', -1, 64)
			} else {
				record[i+2] = ""
			}
		}

		if err := cw.Write(record); err != nil {
			// Client went away; stop reading rows.
			return
		}

		written++
		if written%config.DefaultExportBatchSize == 0 {
			cw.Flush()
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	cw.Flush()
	if err := stream.Err(); err != nil {
		// The header is already on the wire; all we can do is log.
		logging.WithContext(r.Context()).Error("csv export aborted", "error", err, "rows", written)
		return
	}

	logging.WithContext(r.Context()).Info("csv export complete", "rows", written)
}

// =============================================================================
// Parquet Export: GET /readings/parquet
// =============================================================================

// parquetSchema builds the file schema from the registry: id, timestamp,
// and one optional double column per sensor.
func (h *handler) parquetSchema() *parquet.Schema {
	group := parquet.Group{
		"id":        parquet.Int(64),
		"timestamp": parquet.Timestamp(parquet.Millisecond),
	}
	for _, field := range h.reg.Fields() {
		group[field] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
	}
	return parquet.NewSchema("readings", group)
}

// handleParquet streams the full history as a Parquet file, one row group
// per batch.
func (h *handler) handleParquet(w http.ResponseWriter, r *http.Request) {
	stream, err := h.st.StreamAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename=sensorlog_readings.parquet`)

	schema := h.parquetSchema()
	pw := parquet.NewGenericWriter[map[string]any](w, schema,
		parquet.Compression(&parquet.Zstd))

	fields := h.reg.Fields()
	batch := make([]map[string]any, 0, config.DefaultExportBatchSize)
	written := 0

	flushBatch := func() bool {
		if len(batch) == 0 {
			return true
		}
		if _, err := pw.Write(batch); err != nil {
			logging.WithContext(r.Context()).Error("parquet export aborted", "error", err, "rows", written)
			return false
		}
		written += len(batch)
		batch = batch[:0]
		return true
	}

	for {
		row, ok := stream.Next()
		if !ok {
			break
		}

		rec := map[string]any{
			"id":        row.ID,
			"timestamp": row.Timestamp.UnixMilli(),
		}
		for i, v := range row.Values {
			if v.Valid {
				rec[fields[i]] = v.Float64
			}
		}
		batch = append(batch, rec)

		if len(batch) == config.DefaultExportBatchSize {
			if !flushBatch() {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		logging.WithContext(r.Context()).Error("parquet export aborted", "error", err, "rows", written)
		return
	}
	if !flushBatch() {
		return
	}
	if err := pw.Close(); err != nil {
		logging.WithContext(r.Context()).Error("parquet export close failed", "error", err)
		return
	}

	logging.WithContext(r.Context()).Info("parquet export complete", "rows", written)
}
