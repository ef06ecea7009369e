package testsupport

import (
	"context"
	"sync"
)

// StubTranscriber is a scripted speech-to-text client.
type StubTranscriber struct {
	mu    sync.Mutex
	Text  string
	Err   error
	Calls []string
}

func (s *StubTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, audioPath)
	if s.Err != nil {
		return "", s.Err
	}
	return s.Text, nil
}
