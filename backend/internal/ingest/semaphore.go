package ingest

import (
	"context"
	"errors"
)

// Semaphore bounds the number of in-flight outbound calls (Kafka sends,
// summary publishes) so a slow collaborator cannot pile up goroutines.
type Semaphore struct {
	ch chan struct{}
}

func NewSemaphore(size int) *Semaphore {
	if size <= 0 {
		size = 100
	}
	return &Semaphore{ch: make(chan struct{}, size)}
}

func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("release without acquire")
	}
}
