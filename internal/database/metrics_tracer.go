package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hassanrakib/zitbo-server/internal/metrics"
)

// queryTracer implements pgx.QueryTracer and feeds per-query durations and
// error counts into the metrics registry. Queries are labelled by their
// leading keyword to keep label cardinality low.
type queryTracer struct{}

var _ pgx.QueryTracer = (*queryTracer)(nil)

type traceKey struct{}

type traceInfo struct {
	started time.Time
	query   string
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := traceInfo{started: time.Now(), query: queryLabel(data.SQL)}
	return context.WithValue(ctx, traceKey{}, info)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	info, ok := ctx.Value(traceKey{}).(traceInfo)
	if !ok {
		return
	}

	metrics.DBQueryDuration.WithLabelValues(info.query).Observe(time.Since(info.started).Seconds())
	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(info.query).Inc()
	}
}

// queryLabel reduces a SQL statement to its leading keyword, lowercased.
func queryLabel(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
