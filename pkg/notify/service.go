package notify

import (
	"context"
	"sync"

	"beaconbond/pkg/logger"
)

// SinkFactory builds the UI-facing sink for one user's reconciler.
type SinkFactory func(user string) Sink

// Service manages one reconciler per connected user, created lazily on
// first use and torn down together on Close.
type Service struct {
	src     Source
	names   NameResolver
	sinks   SinkFactory
	queue   int
	preview int

	mu          sync.Mutex
	reconcilers map[string]*Reconciler
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
}

// NewService creates a Service. sinks may be nil, in which case
// reconcilers run with a no-op sink (snapshot-only consumers).
func NewService(ctx context.Context, src Source, names NameResolver, sinks SinkFactory, queueCapacity, previewLen int) *Service {
	sctx, cancel := context.WithCancel(ctx)
	return &Service{
		src:         src,
		names:       names,
		sinks:       sinks,
		queue:       queueCapacity,
		preview:     previewLen,
		reconcilers: map[string]*Reconciler{},
		ctx:         sctx,
		cancel:      cancel,
	}
}

// For returns the reconciler for a user, starting one if needed.
func (s *Service) For(user string) (*Reconciler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, context.Canceled
	}
	if r, ok := s.reconcilers[user]; ok {
		return r, nil
	}
	var sink Sink
	if s.sinks != nil {
		sink = s.sinks(user)
	}
	r, err := New(Options{
		User:          user,
		Source:        s.src,
		Names:         s.names,
		Sink:          sink,
		QueueCapacity: s.queue,
		PreviewLength: s.preview,
	})
	if err != nil {
		return nil, err
	}
	if err := r.Start(s.ctx); err != nil {
		return nil, err
	}
	s.reconcilers[user] = r
	logger.Info("reconciler_spawned", "user", user, "active", len(s.reconcilers))
	return r, nil
}

// Drop tears down one user's reconciler if present.
func (s *Service) Drop(user string) {
	s.mu.Lock()
	r, ok := s.reconcilers[user]
	delete(s.reconcilers, user)
	s.mu.Unlock()
	if ok {
		r.Close()
	}
}

// Close tears down every reconciler.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rs := s.reconcilers
	s.reconcilers = map[string]*Reconciler{}
	s.mu.Unlock()
	s.cancel()
	for _, r := range rs {
		r.Close()
	}
}
