package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tshla-medical/phicore/internal/config"
	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/domain/audit"
	"github.com/tshla-medical/phicore/pkg/cryptox"
	"github.com/tshla-medical/phicore/pkg/metrics"
	"go.uber.org/zap"
)

// Sink is the durable destination for audit batches. Any error is treated as
// a transient failure: the batch is retried on the next flush.
type Sink interface {
	Send(ctx context.Context, entries []*audit.Entry) error
}

// AuditService buffers audit entries in memory and flushes them to the sink
// on a fixed interval, or immediately for critical actions. Delivery is
// at-least-once: a failed batch is prepended back onto the queue (preserving
// chronological order) and retried, so a crash mid-flush can duplicate
// entries but never lose them. Downstream dedup is by entry ID.
type AuditService struct {
	sink    Sink
	box     *cryptox.Box
	log     *zap.Logger
	metrics *metrics.Collector

	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	queue []*audit.Entry

	done     chan struct{}
	finished chan struct{}
	started  bool
}

func NewAuditService(cfg config.AuditConfig, sink Sink, box *cryptox.Box, log *zap.Logger, m *metrics.Collector) *AuditService {
	return &AuditService{
		sink:     sink,
		box:      box,
		log:      log,
		metrics:  m,
		interval: cfg.FlushInterval,
		now:      time.Now,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start launches the periodic flush loop. It must be called at most once.
func (s *AuditService) Start() {
	if s.started {
		return
	}
	s.started = true

	go func() {
		defer close(s.finished)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Flush(context.Background()); err != nil {
					s.log.Warn("audit flush failed, batch re-queued", zap.Error(err))
				}
			case <-s.done:
				return
			}
		}
	}()
}

// Shutdown stops the flush loop and performs one final synchronous flush so
// no buffered events are lost on graceful termination.
func (s *AuditService) Shutdown(ctx context.Context) error {
	if s.started {
		close(s.done)
		select {
		case <-s.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Flush(ctx)
}

// Record stamps an ID and timestamp, hashes the raw patient identifier if one
// is given, and enqueues the entry. The raw identifier never enters the
// queue: hashing happens before the entry is stored anywhere. Critical
// actions trigger an immediate flush instead of waiting for the ticker.
func (s *AuditService) Record(e audit.Entry, rawPatientID string) {
	e.ID = uuid.New()
	e.Timestamp = s.now().UTC()
	if rawPatientID != "" {
		e.PatientIDHash = s.box.HashIdentifier(rawPatientID)
	}

	s.mu.Lock()
	s.queue = append(s.queue, &e)
	depth := len(s.queue)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AuditEntriesTotal.Inc()
		s.metrics.AuditQueueDepth.Set(float64(depth))
	}

	if e.Action.IsCritical() {
		go func() {
			if err := s.Flush(context.Background()); err != nil {
				s.log.Warn("immediate audit flush failed, batch re-queued",
					zap.String("action", string(e.Action)),
					zap.Error(err),
				)
			}
		}()
	}
}

// Flush atomically detaches the pending batch and sends it. Entries recorded
// while the send is in flight land on the fresh queue, so they are neither
// lost nor duplicated into this batch. On failure the detached batch is
// prepended back so chronological order survives the retry.
func (s *AuditService) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.sink.Send(ctx, batch); err != nil {
		s.mu.Lock()
		s.queue = append(batch, s.queue...)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.AuditFlushFailures.Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.AuditEntriesFlushed.Add(float64(len(batch)))
	}
	return nil
}

// RecordAccess logs one access to a protected resource.
func (s *AuditService) RecordAccess(userID string, role domain.Role, rawPatientID string, action audit.Action, resourceType audit.ResourceType, resourceID string, success bool) {
	s.Record(audit.Entry{
		UserID:       userID,
		UserRole:     role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      success,
	}, rawPatientID)
}

// RecordFailedAccess logs a failed operation with its error message.
func (s *AuditService) RecordFailedAccess(userID string, role domain.Role, rawPatientID string, action audit.Action, resourceType audit.ResourceType, resourceID string, errMsg string) {
	s.Record(audit.Entry{
		UserID:       userID,
		UserRole:     role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      false,
		ErrorMessage: errMsg,
	}, rawPatientID)
}

// WithAudit runs op and records its outcome either way, so audit coverage
// cannot be skipped by a forgotten call site. The operation's error is
// returned unchanged after being captured in the entry.
func (s *AuditService) WithAudit(userID string, action audit.Action, resourceType audit.ResourceType, resourceID string, op func() error) error {
	err := op()
	entry := audit.Entry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      err == nil,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	s.Record(entry, "")
	return err
}

// Pending returns the current queue depth.
func (s *AuditService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
