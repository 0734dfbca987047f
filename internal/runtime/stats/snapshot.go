package stats

import (
	"time"

	"github.com/drblury/ringflow/internal/runtime/event"
)

// ProtocolSnapshot holds per-protocol request counts.
type ProtocolSnapshot struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Snapshot is a point-in-time copy of the collector.
type Snapshot struct {
	TotalRequests       int64                       `json:"total_requests"`
	CompletedRequests   int64                       `json:"completed_requests"`
	ErrorRequests       int64                       `json:"error_requests"`
	InFlight            int64                       `json:"in_flight"`
	ActiveConnections   int64                       `json:"active_connections"`
	TotalClients        int64                       `json:"total_clients"`
	RejectedPublishes   int64                       `json:"rejected_publishes"`
	DiscardedEvents     int64                       `json:"discarded_events"`
	AverageProcessingNs float64                     `json:"average_processing_ns"`
	MaxProcessingNs     int64                       `json:"max_processing_ns"`
	ErrorsByCategory    map[string]int64            `json:"errors_by_category,omitempty"`
	Protocols           map[string]ProtocolSnapshot `json:"protocols,omitempty"`
	Since               time.Time                   `json:"since"`
	CollectedAt         time.Time                   `json:"collected_at"`
}

// Snapshot copies the current counter values.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		TotalRequests:       c.TotalRequests(),
		CompletedRequests:   c.CompletedRequests(),
		ErrorRequests:       c.ErrorRequestCount(),
		InFlight:            c.InFlight(),
		ActiveConnections:   c.ActiveConnections(),
		TotalClients:        c.TotalClients(),
		RejectedPublishes:   c.RejectedPublishes(),
		DiscardedEvents:     c.DiscardedEvents(),
		AverageProcessingNs: c.AverageProcessingTime(),
		MaxProcessingNs:     c.maxNanos.Load(),
		ErrorsByCategory:    make(map[string]int64),
		Protocols:           make(map[string]ProtocolSnapshot),
		Since:               time.Unix(0, c.resetAt.Load()),
		CollectedAt:         time.Now(),
	}
	for i := ErrorCategoryPanic; i < numErrorCategories; i++ {
		if n := c.byCategory[i].Load(); n > 0 {
			snap.ErrorsByCategory[i.String()] = n
		}
	}
	for i := range c.byProtocol {
		pc := &c.byProtocol[i]
		ps := ProtocolSnapshot{
			Started:   pc.started.Load(),
			Completed: pc.completed.Load(),
			Failed:    pc.failed.Load(),
			Rejected:  pc.rejected.Load(),
		}
		if ps != (ProtocolSnapshot{}) {
			snap.Protocols[event.ProtocolType(i).String()] = ps
		}
	}
	return snap
}
