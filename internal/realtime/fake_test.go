package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// fakeSocket records every frame sent to it.
type fakeSocket struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{id: uuid.NewString()}
}

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *fakeSocket) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}
