package utils

import (
	"context"
	"sync"
	"time"
)

// Session scopes a group of goroutines to one context. Close cancels the
// context and waits for every goroutine started with Go.
type Session struct {
	context   context.Context
	cancel    context.CancelFunc
	startTime time.Time
	wg        *sync.WaitGroup
}

func NewSession(ctx context.Context) Session {
	ctx, cancel := context.WithCancel(ctx)
	return Session{
		context:   ctx,
		cancel:    cancel,
		startTime: time.Now(),
		wg:        &sync.WaitGroup{},
	}
}

func (s *Session) Started() time.Time {
	return s.startTime
}

func (s *Session) Ctx() context.Context {
	return s.context
}

func (s *Session) IsDone() bool {
	return s.context.Err() != nil
}

func (s *Session) Cancel() {
	s.cancel()
}

// Go runs fn in a goroutine tied to the session.
func (s *Session) Go(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.context)
	}()
}

// Close cancels the session and blocks until its goroutines return.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}
