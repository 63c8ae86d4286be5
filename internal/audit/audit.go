// Package audit records the outcome of every step-up authorization
// asynchronously.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/broker"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"github.com/prefeitura-rio/app-medrec/internal/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	DefaultWorkers       = 2
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 100 * time.Millisecond
)

// Entry is one audit log document
type Entry struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID    string             `bson:"session_id" json:"session_id"`
	ChallengeID  string             `bson:"challenge_id" json:"challenge_id"`
	Kind         string             `bson:"kind" json:"kind"`
	SubjectID    string             `bson:"subject_id" json:"subject_id"`
	Outcome      string             `bson:"outcome" json:"outcome"`
	Reason       string             `bson:"reason" json:"reason"`
	Phone        string             `bson:"phone,omitempty" json:"phone,omitempty"`
	IdentityID   string             `bson:"identity_id,omitempty" json:"identity_id,omitempty"`
	IdentityRole string             `bson:"identity_role,omitempty" json:"identity_role,omitempty"`
	ResumeError  string             `bson:"resume_error,omitempty" json:"resume_error,omitempty"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
}

// EntryFromEvent builds the audit entry for a broker outcome. The phone
// number is stored masked.
func EntryFromEvent(e broker.Event) Entry {
	entry := Entry{
		SessionID:   e.SessionID,
		ChallengeID: e.ChallengeID,
		Kind:        string(e.Intent.Kind),
		SubjectID:   e.Intent.SubjectID,
		Outcome:     string(e.Outcome),
		Reason:      e.Reason,
		Timestamp:   e.At.UTC(),
	}
	if e.PhoneNumber != "" {
		entry.Phone = observability.MaskPhone(e.PhoneNumber)
	}
	if e.Identity != nil {
		entry.IdentityID = e.Identity.ID
		entry.IdentityRole = string(e.Identity.Role)
	}
	if e.ResumeErr != nil {
		entry.ResumeError = e.ResumeErr.Error()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return entry
}

// Sink persists a batch of entries
type Sink interface {
	WriteBatch(ctx context.Context, entries []Entry) (int64, error)
}

// MongoSink writes entries to a MongoDB collection
type MongoSink struct {
	collection *mongo.Collection
}

// NewMongoSink creates a sink over collection
func NewMongoSink(collection *mongo.Collection) *MongoSink {
	return &MongoSink{collection: collection}
}

// WriteBatch bulk inserts entries, unordered
func (s *MongoSink) WriteBatch(ctx context.Context, entries []Entry) (int64, error) {
	operations := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		operations = append(operations, mongo.NewInsertOneModel().SetDocument(e))
	}
	result, err := s.collection.BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, err
	}
	return result.InsertedCount, nil
}

// WorkerConfig sizes the worker pool
type WorkerConfig struct {
	Workers       int
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Worker drains audit entries into a Sink in batches
type Worker struct {
	entries chan Entry
	sink    Sink
	cfg     WorkerConfig
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	dropped atomic.Int64
}

// NewWorker creates a worker. Call Start to begin draining.
func NewWorker(sink Sink, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Worker{
		entries: make(chan Entry, cfg.BufferSize),
		sink:    sink,
		cfg:     cfg,
	}
}

// Start launches the worker pool
func (w *Worker) Start() {
	w.wg.Add(w.cfg.Workers)
	for i := 0; i < w.cfg.Workers; i++ {
		go func() {
			defer w.wg.Done()
			w.process()
		}()
	}

	logging.Logger.Info("audit worker started",
		zap.Int("workers", w.cfg.Workers),
		zap.Int("buffer_size", w.cfg.BufferSize))
}

// Record is a broker OnOutcome hook. It never blocks: without a worker the
// event becomes a log line, and a full buffer drops it.
func (w *Worker) Record(e broker.Event) {
	w.Log(EntryFromEvent(e))
}

// Log queues entry for writing
func (w *Worker) Log(entry Entry) {
	if w == nil {
		logEntry(entry)
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		logEntry(entry)
		return
	}

	select {
	case w.entries <- entry:
	default:
		w.dropped.Add(1)
		observability.AuditLogsDropped.Inc()
		logging.Logger.Warn("audit buffer full, entry dropped",
			zap.String("challenge_id", entry.ChallengeID),
			zap.String("outcome", entry.Outcome))
	}
}

func (w *Worker) process() {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.cfg.BatchSize)
	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Worker) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, span, done := utils.TraceAuditOperation(ctx, "flush", len(batch))
	defer done()

	inserted, err := w.sink.WriteBatch(ctx, batch)
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		logging.Logger.Error("failed to write audit batch",
			zap.Error(err),
			zap.Int("batch_size", len(batch)))
		return
	}
	logging.Logger.Debug("audit batch written",
		zap.Int64("inserted", inserted),
		zap.Int("batch_size", len(batch)))
}

// Stop flushes queued entries and waits for the workers to exit. Entries
// logged afterwards become log lines.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.entries)
	w.mu.Unlock()

	w.wg.Wait()
}

// Stats reports the worker's buffer usage
func (w *Worker) Stats() map[string]interface{} {
	if w == nil {
		return map[string]interface{}{"status": "not_initialized"}
	}
	w.mu.RLock()
	status := "running"
	if w.stopped {
		status = "stopped"
	}
	w.mu.RUnlock()
	return map[string]interface{}{
		"status":           status,
		"workers":          w.cfg.Workers,
		"buffer_capacity":  cap(w.entries),
		"buffer_usage":     len(w.entries),
		"buffer_available": cap(w.entries) - len(w.entries),
		"dropped":          w.dropped.Load(),
	}
}

func logEntry(entry Entry) {
	logging.Logger.Info("authorization audit",
		zap.String("session_id", entry.SessionID),
		zap.String("challenge_id", entry.ChallengeID),
		zap.String("kind", entry.Kind),
		zap.String("subject_id", entry.SubjectID),
		zap.String("outcome", entry.Outcome),
		zap.String("reason", entry.Reason),
		zap.String("phone", entry.Phone),
		zap.String("identity_role", entry.IdentityRole),
		zap.String("resume_error", entry.ResumeError))
}
