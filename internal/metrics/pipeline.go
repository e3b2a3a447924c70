package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/deribit-data/internal/poller"
	"github.com/rickgao/deribit-data/internal/router"
	"github.com/rickgao/deribit-data/internal/writer"
)

// StatsSource supplies the counters sampled on each scrape.
type StatsSource struct {
	Router func() router.RouterStats
	Writer func() writer.BookWriterMetrics
	Poller func() poller.Stats   // Optional
	Pool   func() *pgxpool.Stat // Optional
}

type sample struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value float64
}

// pipelineCollector reads router, writer and pool stats at collect time.
type pipelineCollector struct {
	src   StatsSource
	descs map[string]*prometheus.Desc
}

// RegisterPipeline registers a collector over src with reg.
func RegisterPipeline(reg prometheus.Registerer, src StatsSource) error {
	c := &pipelineCollector{src: src, descs: make(map[string]*prometheus.Desc)}
	for _, d := range []struct{ subsystem, name, help string }{
		{"router", "messages_received_total", "Notifications read from the subscription."},
		{"router", "messages_routed_total", "Book messages handed to the writer buffer."},
		{"router", "parse_errors_total", "Notifications that failed to parse."},
		{"router", "unknown_messages_total", "Notifications on channels the router does not handle."},
		{"router", "change_gaps_total", "Book messages whose prev_change_id skipped an update."},
		{"router", "heartbeats_total", "Heartbeat test requests answered."},
		{"router", "heartbeat_errors_total", "Heartbeat test requests that failed."},
		{"buffer", "book_count", "Messages waiting in the book buffer."},
		{"buffer", "book_capacity", "Current capacity of the book buffer."},
		{"buffer", "book_high_water", "Largest book buffer depth seen."},
		{"writer", "delta_inserts_total", "Book delta rows inserted."},
		{"writer", "delta_conflicts_total", "Book delta rows skipped as duplicates."},
		{"writer", "delta_errors_total", "Failed book delta batches."},
		{"writer", "snapshot_inserts_total", "Book snapshot rows inserted."},
		{"writer", "snapshot_errors_total", "Failed book snapshot batches."},
		{"writer", "flushes_total", "Writer flushes."},
		{"writer", "polled_snapshots_total", "Polled books queued as snapshot rows."},
		{"poller", "cycles_total", "Snapshot poll cycles."},
		{"poller", "fetched_total", "Order books fetched by the poller."},
		{"poller", "errors_total", "Failed order book fetches."},
		{"db", "acquired_conns", "Connections currently checked out of the pool."},
		{"db", "idle_conns", "Idle connections in the pool."},
		{"db", "total_conns", "Open connections in the pool."},
	} {
		c.descs[d.subsystem+"_"+d.name] = prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, d.subsystem, d.name), d.help, nil, nil)
	}
	return reg.Register(c)
}

func (c *pipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *pipelineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.samples() {
		ch <- prometheus.MustNewConstMetric(s.desc, s.kind, s.value)
	}
}

func (c *pipelineCollector) samples() []sample {
	var out []sample
	counter := func(name string, v int64) {
		out = append(out, sample{c.descs[name], prometheus.CounterValue, float64(v)})
	}
	gauge := func(name string, v int) {
		out = append(out, sample{c.descs[name], prometheus.GaugeValue, float64(v)})
	}

	if c.src.Router != nil {
		rs := c.src.Router()
		counter("router_messages_received_total", rs.MessagesReceived)
		counter("router_messages_routed_total", rs.MessagesRouted)
		counter("router_parse_errors_total", rs.ParseErrors)
		counter("router_unknown_messages_total", rs.UnknownMessages)
		counter("router_change_gaps_total", rs.ChangeGaps)
		counter("router_heartbeats_total", rs.Heartbeats)
		counter("router_heartbeat_errors_total", rs.HeartbeatErrors)
		gauge("buffer_book_count", rs.BookBuffer.Count)
		gauge("buffer_book_capacity", rs.BookBuffer.Capacity)
		gauge("buffer_book_high_water", rs.BookBuffer.HighWater)
	}

	if c.src.Writer != nil {
		ws := c.src.Writer()
		counter("writer_delta_inserts_total", ws.DeltaInserts)
		counter("writer_delta_conflicts_total", ws.DeltaConflicts)
		counter("writer_delta_errors_total", ws.DeltaErrors)
		counter("writer_snapshot_inserts_total", ws.SnapshotInserts)
		counter("writer_snapshot_errors_total", ws.SnapshotErrors)
		counter("writer_flushes_total", ws.Flushes)
		counter("writer_polled_snapshots_total", ws.PolledSnapshots)
	}

	if c.src.Poller != nil {
		ps := c.src.Poller()
		counter("poller_cycles_total", ps.Cycles)
		counter("poller_fetched_total", ps.Fetched)
		counter("poller_errors_total", ps.Errors)
	}

	if c.src.Pool != nil {
		if ps := c.src.Pool(); ps != nil {
			gauge("db_acquired_conns", int(ps.AcquiredConns()))
			gauge("db_idle_conns", int(ps.IdleConns()))
			gauge("db_total_conns", int(ps.TotalConns()))
		}
	}

	return out
}
