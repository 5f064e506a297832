package jobs

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/repos"
	"github.com/yungbote/resonance-backend/internal/types"
)

type historyAppend struct {
	pairKey  string
	snapshot types.ResonanceSnapshot
}

// HistoryQueue persists resonance history snapshots off the scoring path.
// The contract is eventually-persisted and loss-tolerant: Enqueue never
// blocks, and a full buffer drops the append. Drops are logged and visible
// through Dropped().
type HistoryQueue struct {
	db      *gorm.DB
	log     *logger.Logger
	records repos.ResonanceRecordRepo
	ch      chan historyAppend
	limit   int
	dropped chan struct{}
}

// NewHistoryQueue builds a queue with the given buffer size and per-record
// history limit.
func NewHistoryQueue(db *gorm.DB, baseLog *logger.Logger, records repos.ResonanceRecordRepo, buffer, historyLimit int) *HistoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &HistoryQueue{
		db:      db,
		log:     baseLog.With("component", "HistoryQueue"),
		records: records,
		ch:      make(chan historyAppend, buffer),
		limit:   historyLimit,
		dropped: make(chan struct{}, buffer),
	}
}

// Enqueue hands a snapshot to the writer. Returns false when the buffer is
// full and the snapshot was dropped.
func (q *HistoryQueue) Enqueue(pairKey string, snapshot types.ResonanceSnapshot) bool {
	select {
	case q.ch <- historyAppend{pairKey: pairKey, snapshot: snapshot}:
		return true
	default:
		q.log.Warn("history buffer full, dropping snapshot", "pair_key", pairKey)
		select {
		case q.dropped <- struct{}{}:
		default:
		}
		return false
	}
}

// Dropped reports how many drops have been recorded since the last call.
func (q *HistoryQueue) Dropped() int {
	n := 0
	for {
		select {
		case <-q.dropped:
			n++
		default:
			return n
		}
	}
}

// Pending reports how many snapshots are waiting in the buffer.
func (q *HistoryQueue) Pending() int {
	return len(q.ch)
}

// Start launches the writer loop. It drains the buffer until ctx is done.
func (q *HistoryQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case item := <-q.ch:
				q.write(ctx, item)
			}
		}
	}()
}

// Drain synchronously writes everything currently buffered. Used in tests
// and at shutdown.
func (q *HistoryQueue) Drain(ctx context.Context) {
	for {
		select {
		case item := <-q.ch:
			q.write(ctx, item)
		default:
			return
		}
	}
}

func (q *HistoryQueue) write(ctx context.Context, item historyAppend) {
	if err := q.records.AppendHistory(ctx, nil, item.pairKey, item.snapshot, q.limit); err != nil {
		// Loss-tolerant: log and move on, the next recompute produces a
		// fresh snapshot anyway.
		q.log.Warn("history append failed", "pair_key", item.pairKey, "error", err)
	}
}
