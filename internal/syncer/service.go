// Package syncer mirrors session mutations to a remote store on a
// best-effort basis. Local progress never blocks on the network: failed
// deliveries go into an in-memory retry queue drained in order. The queue is
// not persisted; the local ledger remains authoritative and can always be
// re-sent by a separate reconciliation pass.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// RemoteStore is the remote mirroring contract. The remote side is
// responsible for idempotent handling of retried deliveries; this service
// guarantees at-least-once, in order.
type RemoteStore interface {
	CreateSession(ctx context.Context, session protocol.Session) error
	AppendMessage(ctx context.Context, sessionID string, msg protocol.ChatMessage) error
	UpdateStatus(ctx context.Context, sessionID string, status protocol.SessionStatus) error
}

// SyncError reports a failed remote delivery. The item is requeued, never
// dropped.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

type itemType string

const (
	itemCreateSession itemType = "create_session"
	itemAppendMessage itemType = "append_message"
	itemUpdateStatus  itemType = "update_status"
)

type item struct {
	Type      itemType
	Timestamp time.Time

	Session   protocol.Session
	SessionID string
	Message   protocol.ChatMessage
	Status    protocol.SessionStatus
}

// Service is the best-effort mirror. All methods are safe for concurrent
// use, though the orchestrator's serialization means calls arrive in
// submission order.
type Service struct {
	remote   RemoteStore
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	queue  []item
	online bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates a sync service. interval is the periodic drain cadence
// for a non-empty queue; zero disables the timer (drains still happen on
// mutation).
func NewService(remote RemoteStore, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		remote:   remote,
		interval: interval,
		logger:   logger,
		online:   true,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic drain timer.
func (s *Service) Start() {
	if s.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if s.QueueLength() > 0 {
					s.Drain(context.Background())
				}
			}
		}
	}()
}

// Close stops the drain timer. Queued items that never drained are lost.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// IsOnline reports whether the last delivery attempt succeeded.
func (s *Service) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// QueueLength reports the number of undelivered items.
func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SyncSessionCreated mirrors session creation.
func (s *Service) SyncSessionCreated(ctx context.Context, session protocol.Session) {
	s.submit(ctx, item{Type: itemCreateSession, Timestamp: time.Now().UTC(), Session: session})
}

// SyncMessage mirrors one conversation message.
func (s *Service) SyncMessage(ctx context.Context, sessionID string, msg protocol.ChatMessage) {
	s.submit(ctx, item{Type: itemAppendMessage, Timestamp: time.Now().UTC(), SessionID: sessionID, Message: msg})
}

// SyncStatus mirrors a session status change.
func (s *Service) SyncStatus(ctx context.Context, sessionID string, status protocol.SessionStatus) {
	s.submit(ctx, item{Type: itemUpdateStatus, Timestamp: time.Now().UTC(), SessionID: sessionID, Status: status})
}

// submit attempts direct delivery when nothing is queued; otherwise the
// item lines up behind the queue so the remote sees mutations in order.
func (s *Service) submit(ctx context.Context, it item) {
	s.mu.Lock()
	direct := s.online && len(s.queue) == 0
	s.mu.Unlock()

	if direct {
		err := s.send(ctx, it)
		if err == nil {
			return
		}
		s.logger.Warn("remote sync failed, queueing",
			"error", &SyncError{Op: string(it.Type), Err: err})
	}

	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.online = false
	s.mu.Unlock()
}

// Drain delivers queued items strictly in enqueue order. The first failure
// stops the pass, leaving the failed item and everything behind it for the
// next attempt. A pass that empties the queue flips the service online.
func (s *Service) Drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if !s.online {
				s.online = true
				s.logger.Info("remote sync back online")
			}
			s.mu.Unlock()
			return
		}
		head := s.queue[0]
		s.mu.Unlock()

		if err := s.send(ctx, head); err != nil {
			s.logger.Debug("drain attempt failed",
				"error", &SyncError{Op: string(head.Type), Err: err},
				"queued", s.QueueLength())
			return
		}

		s.mu.Lock()
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

func (s *Service) send(ctx context.Context, it item) error {
	switch it.Type {
	case itemCreateSession:
		return s.remote.CreateSession(ctx, it.Session)
	case itemAppendMessage:
		return s.remote.AppendMessage(ctx, it.SessionID, it.Message)
	case itemUpdateStatus:
		return s.remote.UpdateStatus(ctx, it.SessionID, it.Status)
	default:
		return fmt.Errorf("unknown sync item type %q", it.Type)
	}
}
