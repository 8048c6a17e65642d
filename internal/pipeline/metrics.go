package pipeline

import "sync/atomic"

// Metrics holds the pipeline counters.
type Metrics struct {
	Frames         atomic.Uint64 // frames read from the source
	Dropped        atomic.Uint64 // frames filtered out before payload decode
	Datagrams      atomic.Uint64 // datagrams that passed the port filter
	Records        atomic.Uint64 // records decoded
	DecodeFailures atomic.Uint64 // datagrams that failed payload decode
	SinkErrors     atomic.Uint64
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Frames         uint64
	Dropped        uint64
	Datagrams      uint64
	Records        uint64
	DecodeFailures uint64
	SinkErrors     uint64
}

func (m *Metrics) Snapshot() Stats {
	return Stats{
		Frames:         m.Frames.Load(),
		Dropped:        m.Dropped.Load(),
		Datagrams:      m.Datagrams.Load(),
		Records:        m.Records.Load(),
		DecodeFailures: m.DecodeFailures.Load(),
		SinkErrors:     m.SinkErrors.Load(),
	}
}
