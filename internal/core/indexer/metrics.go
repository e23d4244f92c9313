package indexer

import "sync/atomic"

// Stats はインデックス投入の稼働統計を表す
type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Indexed  int64 `json:"indexed"`
	Retried  int64 `json:"retried"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

type metrics struct {
	enqueued atomic.Int64
	indexed  atomic.Int64
	retried  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

func (m *metrics) snapshot() Stats {
	return Stats{
		Enqueued: m.enqueued.Load(),
		Indexed:  m.indexed.Load(),
		Retried:  m.retried.Load(),
		Dropped:  m.dropped.Load(),
		Failed:   m.failed.Load(),
	}
}
