// Package journal records notifications and ships them in batches to a Sink.
//
// A Journal attaches a listener to each source it is given. Records are
// buffered in memory and written on Flush, or periodically by Serve, which
// runs as a supervised service.
//
//	j := journal.New(journal.NewS3Sink(client, "audit", "herald/"))
//	detach := j.Attach(cart)
//	defer detach()
//	go j.Serve(ctx)
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/herald/pkg/notify"
)

// Record is one journaled notification.
type Record struct {
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"time"`
	Controller string    `json:"controller"`
	Key        string    `json:"key,omitempty"`
	Value      any       `json:"value,omitempty"`
}

// Sink receives batches of records in sequence order.
type Sink interface {
	Write(ctx context.Context, batch []Record) error
}

const (
	defaultCapacity = 4096
	defaultInterval = 30 * time.Second
)

// Journal buffers records until they are flushed to its sink.
type Journal struct {
	sink     Sink
	logger   *slog.Logger
	capacity int
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	records []Record
	seq     uint64
	dropped uint64

	flushMu sync.Mutex
}

// Option configures a Journal.
type Option func(*Journal)

// WithCapacity bounds the number of buffered records. When full, the oldest
// records are dropped.
func WithCapacity(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.capacity = n
		}
	}
}

// WithInterval sets the Serve flush interval.
func WithInterval(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.interval = d
		}
	}
}

// WithLogger sets the journal logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// WithClock sets the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// New creates a journal writing to sink.
func New(sink Sink, opts ...Option) *Journal {
	j := &Journal{
		sink:     sink,
		capacity: defaultCapacity,
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// Attach journals every notification of src that passes opts. The returned
// function detaches the journal.
func (j *Journal) Attach(src notify.Listenable, opts ...notify.ListenOption) (detach func()) {
	l := notify.SourceFunc(func(key, value any, ctrl *notify.Controller) {
		j.Record(ctrl.Name(), key, value)
	})
	src.AddListener(l, opts...)
	return sync.OnceFunc(func() {
		src.RemoveListener(l, opts...)
	})
}

// Record appends a record.
func (j *Journal) Record(controller string, key, value any) {
	rec := Record{
		Time:       j.now().UTC(),
		Controller: controller,
		Value:      Encodable(value),
	}
	if key != nil {
		rec.Key = fmt.Sprint(key)
	}

	j.mu.Lock()
	j.seq++
	rec.Seq = j.seq
	j.records = append(j.records, rec)
	if over := len(j.records) - j.capacity; over > 0 {
		j.records = append([]Record(nil), j.records[over:]...)
		j.dropped += uint64(over)
	}
	j.mu.Unlock()
}

// Pending returns the number of buffered records.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Dropped returns the number of records lost to the capacity bound.
func (j *Journal) Dropped() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Flush writes the buffered records. On failure the batch is put back in
// front of any records that arrived meanwhile.
func (j *Journal) Flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	batch := j.records
	j.records = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := j.sink.Write(ctx, batch); err != nil {
		j.mu.Lock()
		j.records = append(batch, j.records...)
		if over := len(j.records) - j.capacity; over > 0 {
			j.records = append([]Record(nil), j.records[over:]...)
			j.dropped += uint64(over)
		}
		j.mu.Unlock()
		return fmt.Errorf("journal: flush %d records: %w", len(batch), err)
	}

	j.logger.Debug("Journal flushed", slog.Int("records", len(batch)), slog.Uint64("last_seq", batch[len(batch)-1].Seq))
	return nil
}

// Serve flushes every interval until ctx is done, then flushes once more.
func (j *Journal) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			err := j.Flush(final)
			cancel()
			if err != nil {
				j.logger.Error("Final journal flush failed", slog.Any("error", err))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := j.Flush(ctx); err != nil {
				j.logger.Warn("Journal flush failed", slog.Any("error", err))
			}
		}
	}
}

// String names the journal as a supervised service.
func (j *Journal) String() string {
	return "journal"
}

// Encodable returns v when it marshals to JSON, and its fmt.Sprint form
// otherwise. Values that cannot be encoded, such as channels or funcs, are
// recorded by their string form instead of failing the whole batch.
func Encodable(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
