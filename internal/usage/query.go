package usage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"cortex.dev/cortex/internal/apperr"
)

// SeriesPoint is one bucket of a time-series usage query.
type SeriesPoint struct {
	BucketStart      time.Time `db:"bucket_start" json:"bucket_start"`
	RequestCount     int64     `db:"request_count" json:"request_count"`
	PromptTokens     int64     `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64     `db:"completion_tokens" json:"completion_tokens"`
}

// Aggregate is a single-row rollup over a time range.
type Aggregate struct {
	RequestCount     int64   `db:"request_count" json:"request_count"`
	PromptTokens     int64   `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64   `db:"completion_tokens" json:"completion_tokens"`
	ErrorCount       int64   `db:"error_count" json:"error_count"`
	ErrorRate        float64 `json:"error_rate"`
}

// Percentiles holds p50/p90/p99 for a latency-like metric, in
// milliseconds.
type Percentiles struct {
	P50 float64 `db:"p50" json:"p50"`
	P90 float64 `db:"p90" json:"p90"`
	P99 float64 `db:"p99" json:"p99"`
}

// ExportRow is one raw usage_records row as returned by Export.
type ExportRow struct {
	RequestID        string    `db:"request_id" json:"request_id"`
	APIKeyID         *int64    `db:"api_key_id" json:"api_key_id,omitempty"`
	ModelServedName  string    `db:"model_served_name" json:"model_served_name"`
	Route            string    `db:"route" json:"route"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	StatusCode       int       `db:"status_code" json:"status_code"`
	LatencyMS        int64     `db:"latency_ms" json:"latency_ms"`
	TTFTMs           *int64    `db:"time_to_first_token_ms" json:"ttft_ms,omitempty"`
	Streamed         bool      `db:"streamed" json:"streamed"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Reader answers the admin usage endpoints (§6: "GET /admin/usage,
// /admin/usage/{series,aggregate,latency,ttft,export}").
type Reader interface {
	Series(ctx context.Context, since, until time.Time, bucket time.Duration, servedName string) ([]SeriesPoint, error)
	Aggregate(ctx context.Context, since, until time.Time, servedName string) (Aggregate, error)
	LatencyPercentiles(ctx context.Context, since, until time.Time, servedName string) (Percentiles, error)
	TTFTPercentiles(ctx context.Context, since, until time.Time, servedName string) (Percentiles, error)
	Export(ctx context.Context, since, until time.Time, servedName string) ([]ExportRow, error)
}

type postgresReader struct {
	db *sqlx.DB
}

// NewReader constructs a Reader over the same usage_records table
// postgresStore writes.
func NewReader(db *sqlx.DB) Reader {
	return &postgresReader{db: db}
}

func (r *postgresReader) Series(ctx context.Context, since, until time.Time, bucket time.Duration, servedName string) ([]SeriesPoint, error) {
	var points []SeriesPoint
	err := r.db.SelectContext(ctx, &points, `
		SELECT
			to_timestamp(floor(extract(epoch from created_at) / $1) * $1) AS bucket_start,
			count(*) AS request_count,
			coalesce(sum(prompt_tokens), 0) AS prompt_tokens,
			coalesce(sum(completion_tokens), 0) AS completion_tokens
		FROM usage_records
		WHERE created_at >= $2 AND created_at < $3
		  AND ($4 = '' OR model_served_name = $4)
		GROUP BY bucket_start
		ORDER BY bucket_start
	`, bucket.Seconds(), since, until, servedName)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "querying usage series", err)
	}
	return points, nil
}

func (r *postgresReader) Aggregate(ctx context.Context, since, until time.Time, servedName string) (Aggregate, error) {
	var agg Aggregate
	err := r.db.GetContext(ctx, &agg, `
		SELECT
			count(*) AS request_count,
			coalesce(sum(prompt_tokens), 0) AS prompt_tokens,
			coalesce(sum(completion_tokens), 0) AS completion_tokens,
			count(*) FILTER (WHERE status_code >= 500) AS error_count
		FROM usage_records
		WHERE created_at >= $1 AND created_at < $2
		  AND ($3 = '' OR model_served_name = $3)
	`, since, until, servedName)
	if err != nil {
		return Aggregate{}, apperr.Wrap(apperr.InternalError, "querying usage aggregate", err)
	}
	if agg.RequestCount > 0 {
		agg.ErrorRate = float64(agg.ErrorCount) / float64(agg.RequestCount)
	}
	return agg, nil
}

func (r *postgresReader) LatencyPercentiles(ctx context.Context, since, until time.Time, servedName string) (Percentiles, error) {
	return r.percentilesOf(ctx, "latency_ms", since, until, servedName)
}

func (r *postgresReader) TTFTPercentiles(ctx context.Context, since, until time.Time, servedName string) (Percentiles, error) {
	return r.percentilesOf(ctx, "time_to_first_token_ms", since, until, servedName)
}

func (r *postgresReader) percentilesOf(ctx context.Context, column string, since, until time.Time, servedName string) (Percentiles, error) {
	var p Percentiles
	query := `
		SELECT
			coalesce(percentile_cont(0.5) WITHIN GROUP (ORDER BY ` + column + `), 0) AS p50,
			coalesce(percentile_cont(0.9) WITHIN GROUP (ORDER BY ` + column + `), 0) AS p90,
			coalesce(percentile_cont(0.99) WITHIN GROUP (ORDER BY ` + column + `), 0) AS p99
		FROM usage_records
		WHERE created_at >= $1 AND created_at < $2
		  AND ($3 = '' OR model_served_name = $3)
		  AND ` + column + ` IS NOT NULL
	`
	if err := r.db.GetContext(ctx, &p, query, since, until, servedName); err != nil {
		return Percentiles{}, apperr.Wrap(apperr.InternalError, "querying usage percentiles", err)
	}
	return p, nil
}

func (r *postgresReader) Export(ctx context.Context, since, until time.Time, servedName string) ([]ExportRow, error) {
	var rows []ExportRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT request_id, api_key_id, model_served_name, route, prompt_tokens,
		       completion_tokens, status_code, latency_ms, time_to_first_token_ms,
		       streamed, created_at
		FROM usage_records
		WHERE created_at >= $1 AND created_at < $2
		  AND ($3 = '' OR model_served_name = $3)
		ORDER BY created_at
	`, since, until, servedName)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "exporting usage records", err)
	}
	return rows, nil
}
