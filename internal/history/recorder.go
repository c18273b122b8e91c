package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/bridges/fibaro"
)

// recordTimeout bounds each database write so a stalled disk cannot
// back up the worker indefinitely.
const recordTimeout = 5 * time.Second

// defaultQueueSize is the buffered channel depth between publishers
// and the write worker.
const defaultQueueSize = 256

// pendingEntry is one message awaiting persistence.
type pendingEntry struct {
	key     string
	kind    string
	payload []byte
}

// Recorder persists published bridge messages to a Repository without
// blocking the publish path. It implements the bridge's Publisher
// interface so it can sit alongside the MQTT link in a fan-out.
//
// Writes are queued to a background worker. When the queue is full the
// message is dropped with a warning - history is an audit trail, not a
// delivery guarantee, and the bridge's real-time path must never stall
// on the database.
type Recorder struct {
	repo   Repository
	logger fibaro.Logger

	queue chan pendingEntry
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a Recorder draining into repo. Close() must be
// called to flush and stop the worker.
func NewRecorder(repo Repository, logger fibaro.Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan pendingEntry, defaultQueueSize),
		done:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// PublishState implements fibaro.Publisher.
func (r *Recorder) PublishState(msg fibaro.StateMessage) error {
	return r.enqueue(msg.Key, KindState, msg)
}

// PublishScene implements fibaro.Publisher.
func (r *Recorder) PublishScene(msg fibaro.SceneMessage) error {
	return r.enqueue(msg.Key, KindScene, msg)
}

// PublishConnection implements fibaro.Publisher.
func (r *Recorder) PublishConnection(msg fibaro.ConnectionMessage) error {
	return r.enqueue(msg.Channel, KindConnection, msg)
}

// enqueue serializes the message and hands it to the worker. Returns
// nil even when the message is dropped: a full history queue must not
// fail the MQTT publish that shares the fan-out.
func (r *Recorder) enqueue(key, kind string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("history: marshal failed", "key", key, "kind", kind, "error", err)
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}

	select {
	case r.queue <- pendingEntry{key: key, kind: kind, payload: payload}:
	default:
		r.logger.Warn("history: queue full, dropping entry", "key", key, "kind", kind)
	}
	r.mu.Unlock()

	return nil
}

// worker drains the queue until Close().
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case entry := <-r.queue:
			r.record(entry)
		case <-r.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case entry := <-r.queue:
					r.record(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) record(entry pendingEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, entry.key, entry.kind, entry.payload); err != nil {
		r.logger.Warn("history: record failed", "key", entry.key, "kind", entry.kind, "error", err)
	}
}

// Close stops the worker after draining queued entries. Safe to call
// more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
}

// noopLogger satisfies fibaro.Logger for callers that don't care.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
