package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rsavings/storage"
)

var (
	journalKeyPrefix = []byte("journal/evt/")
	journalSeqKey    = []byte("journal/seq")
)

// Record is one persisted journal entry. Sequence numbers start at 1 and are
// strictly increasing with no gaps, so replaying records after a known
// sequence reconstructs every state transition an observer missed.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Journal is an append-only, storage-backed event log. It implements Emitter
// so it can be wired directly into the ledger engine.
type Journal struct {
	mu     sync.Mutex
	db     storage.Database
	logger *slog.Logger
	next   uint64
	now    func() time.Time
}

// NewJournal opens a journal over the given database, resuming the sequence
// counter from the last committed record.
func NewJournal(db storage.Database, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, logger: logger, next: 1, now: time.Now}
	raw, err := db.Get(journalSeqKey)
	switch {
	case err == nil:
		var last uint64
		if err := json.Unmarshal(raw, &last); err != nil {
			return nil, fmt.Errorf("journal: corrupt sequence counter: %w", err)
		}
		j.next = last + 1
	case errors.Is(err, storage.ErrKeyNotFound):
	default:
		return nil, err
	}
	return j, nil
}

// Emit appends the event to the journal. Append failures are logged rather
// than surfaced: the ledger mutation has already committed by the time its
// event is emitted, and observers recover through replay.
func (j *Journal) Emit(evt Event) {
	if j == nil || evt == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := Record{
		Sequence:   j.next,
		Timestamp:  j.now().UTC(),
		Type:       evt.EventType(),
		Attributes: evt.EventAttributes(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		j.logger.Error("journal encode failed", "type", rec.Type, "error", err)
		return
	}
	if err := j.db.Put(recordKey(rec.Sequence), raw); err != nil {
		j.logger.Error("journal append failed", "type", rec.Type, "sequence", rec.Sequence, "error", err)
		return
	}
	seqRaw, _ := json.Marshal(rec.Sequence)
	if err := j.db.Put(journalSeqKey, seqRaw); err != nil {
		j.logger.Error("journal sequence update failed", "sequence", rec.Sequence, "error", err)
	}
	j.next++
}

// Replay returns up to limit records with sequence numbers strictly greater
// than after, in order. A limit of zero or less means no limit.
func (j *Journal) Replay(after uint64, limit int) ([]Record, error) {
	if j == nil {
		return nil, nil
	}
	var out []Record
	var decodeErr error
	err := j.db.Iterate(journalKeyPrefix, func(key, value []byte) bool {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			decodeErr = fmt.Errorf("journal: corrupt record at %q: %w", key, err)
			return false
		}
		if rec.Sequence <= after {
			return true
		}
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

// LastSequence reports the sequence number of the most recent record.
func (j *Journal) LastSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next - 1
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", journalKeyPrefix, seq))
}
