// Package storage persists engagement state and forwarded events: key-value
// regions in Redis or memory, a Postgres event store fed by a channel buffer,
// a Redis stream publisher and a read repository.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

const (
	// columnsPerRow is the number of columns inserted per event row.
	columnsPerRow = 5

	// insertBatchSize is the maximum number of rows per INSERT statement.
	insertBatchSize = 50

	// flushTimeout is the context timeout for each flush operation.
	flushTimeout = 5 * time.Second
)

// Buffer is a channel-based event buffer for non-blocking ingestion.
type Buffer struct {
	events chan domain.Event
	closed chan struct{}
	once   sync.Once
}

// NewBuffer creates a buffer with a buffered channel of the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		events: make(chan domain.Event, capacity),
		closed: make(chan struct{}),
	}
}

// Send performs a non-blocking send. It returns false if the buffer is full
// or closed.
func (b *Buffer) Send(event domain.Event) bool {
	select {
	case <-b.closed:
		return false
	default:
	}

	select {
	case b.events <- event:
		return true
	default:
		return false
	}
}

// Len returns the number of events waiting in the buffer.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Close stops the buffer accepting events. It is safe to call multiple times.
func (b *Buffer) Close() {
	b.once.Do(func() {
		close(b.closed)
	})
}

// Store batches buffered events into the engagement_events table.
type Store struct {
	db             *sql.DB
	buffer         *Buffer
	log            infralogger.Logger
	flushInterval  time.Duration
	flushThreshold int
	wg             sync.WaitGroup
}

// NewStore creates a Store that reads events from buffer and batch-inserts them.
func NewStore(
	db *sql.DB,
	buffer *Buffer,
	log infralogger.Logger,
	flushInterval time.Duration,
	flushThreshold int,
) *Store {
	return &Store{
		db:             db,
		buffer:         buffer,
		log:            log,
		flushInterval:  flushInterval,
		flushThreshold: flushThreshold,
	}
}

// Start launches the flush goroutine.
func (s *Store) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop closes the buffer and waits until everything buffered is written.
func (s *Store) Stop() {
	s.buffer.Close()
	s.wg.Wait()
}

// flushLoop flushes when the batch reaches flushThreshold or the interval fires.
func (s *Store) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]domain.Event, 0, s.flushThreshold)

	for {
		select {
		case event := <-s.buffer.events:
			batch = append(batch, event)
			if len(batch) >= s.flushThreshold {
				s.flush(batch)
				batch = make([]domain.Event, 0, s.flushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = make([]domain.Event, 0, s.flushThreshold)
			}

		case <-s.buffer.closed:
			s.drain(&batch)
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Store) drain(batch *[]domain.Event) {
	for {
		select {
		case event := <-s.buffer.events:
			*batch = append(*batch, event)
		default:
			return
		}
	}
}

// flush writes batch in chunks of insertBatchSize, retrying transient
// connection failures.
func (s *Store) flush(batch []domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for start := 0; start < len(batch); start += insertBatchSize {
		end := min(start+insertBatchSize, len(batch))

		chunk := batch[start:end]
		err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
			return s.batchInsert(ctx, chunk)
		})
		if err != nil {
			s.log.Error("Failed to insert engagement events",
				infralogger.Error(err),
				infralogger.Int("batch_size", end-start),
			)
		}
	}

	s.log.Debug("Flushed engagement events", infralogger.Int("total", len(batch)))
}

// batchInsert executes one INSERT with a value tuple per event.
func (s *Store) batchInsert(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*columnsPerRow)
	var sb strings.Builder

	sb.WriteString("INSERT INTO engagement_events (name, visitor_id, page_id, params, emitted_at) VALUES ")

	for i := range events {
		if i > 0 {
			sb.WriteString(", ")
		}

		writeValueTuple(&sb, i)

		params, err := json.Marshal(events[i].Params)
		if err != nil {
			return fmt.Errorf("encode params of %s: %w", events[i].Name, err)
		}

		args = append(args,
			events[i].Name, events[i].VisitorID, events[i].PageID,
			string(params), events[i].EmittedAt,
		)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("exec batch insert: %w", err)
	}

	return nil
}

func writeValueTuple(sb *strings.Builder, rowIndex int) {
	base := rowIndex * columnsPerRow
	fmt.Fprintf(sb, "($%d, $%d, $%d, $%d, $%d)",
		base+1, base+2, base+3, base+4, base+5,
	)
}
