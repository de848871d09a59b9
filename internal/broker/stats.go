package broker

import "sync/atomic"

// Stats is a point-in-time copy of the broker counters
type Stats struct {
	Commands      uint64 `json:"commands"`
	Forwards      uint64 `json:"forwards"`
	Deliveries    uint64 `json:"deliveries"`
	DroppedFull   uint64 `json:"dropped_full"`
	DroppedClosed uint64 `json:"dropped_closed"`
	RelayFailures uint64 `json:"relay_failures"`
	Purged        uint64 `json:"purged"`
	Subscribers   int64  `json:"subscribers"`
}

type counters struct {
	commands      atomic.Uint64
	forwards      atomic.Uint64
	deliveries    atomic.Uint64
	droppedFull   atomic.Uint64
	droppedClosed atomic.Uint64
	relayFailures atomic.Uint64
	purged        atomic.Uint64
	subscribers   atomic.Int64
}

func (c *counters) load() Stats {
	return Stats{
		Commands:      c.commands.Load(),
		Forwards:      c.forwards.Load(),
		Deliveries:    c.deliveries.Load(),
		DroppedFull:   c.droppedFull.Load(),
		DroppedClosed: c.droppedClosed.Load(),
		RelayFailures: c.relayFailures.Load(),
		Purged:        c.purged.Load(),
		Subscribers:   c.subscribers.Load(),
	}
}
