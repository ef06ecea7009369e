package testsupport

import (
	"context"
	"fmt"
	"sync"

	"fieldsync/internal/transport"
)

// StubTransport is a scripted transport.Client. Each method consumes one
// scripted error per call; an exhausted script means success. Successful
// calls mint deterministic remote identifiers and record the request.
type StubTransport struct {
	mu          sync.Mutex
	createErrs  []error
	uploadErrs  []error
	confirmErrs []error
	nextID      int

	// Gate, when set, blocks every call until it is closed. Tests use it to
	// hold a sync pass open.
	Gate chan struct{}

	CreateCalls  []transport.CreateRequest
	UploadCalls  []transport.PartUpload
	ConfirmCalls []string
}

// NewStubTransport returns a transport stub that succeeds on every call.
func NewStubTransport() *StubTransport {
	return &StubTransport{}
}

// FailCreate scripts errors for upcoming CreateEntity calls.
func (s *StubTransport) FailCreate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs = append(s.createErrs, errs...)
}

// FailUpload scripts errors for upcoming UploadPart calls.
func (s *StubTransport) FailUpload(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErrs = append(s.uploadErrs, errs...)
}

// FailConfirm scripts errors for upcoming Confirm calls.
func (s *StubTransport) FailConfirm(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmErrs = append(s.confirmErrs, errs...)
}

func (s *StubTransport) CreateEntity(ctx context.Context, req transport.CreateRequest) (transport.CreateResponse, error) {
	s.waitGate(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls = append(s.CreateCalls, req)
	if err := pop(&s.createErrs); err != nil {
		return transport.CreateResponse{}, err
	}
	s.nextID++
	return transport.CreateResponse{RemoteID: fmt.Sprintf("remote-%d", s.nextID)}, nil
}

func (s *StubTransport) UploadPart(ctx context.Context, remoteID string, part transport.PartUpload) (transport.UploadResponse, error) {
	s.waitGate(ctx)
	s.mu.Lock()
	s.UploadCalls = append(s.UploadCalls, part)
	err := pop(&s.uploadErrs)
	s.nextID++
	id := fmt.Sprintf("part-%d", s.nextID)
	s.mu.Unlock()
	if err != nil {
		return transport.UploadResponse{}, err
	}
	if part.Progress != nil {
		part.Progress(100, 100)
	}
	return transport.UploadResponse{RemotePartID: id}, nil
}

func (s *StubTransport) Confirm(ctx context.Context, remoteID string) error {
	s.waitGate(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfirmCalls = append(s.ConfirmCalls, remoteID)
	return pop(&s.confirmErrs)
}

// Creates returns how many CreateEntity calls the stub has seen.
func (s *StubTransport) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CreateCalls)
}

// Uploads returns how many UploadPart calls the stub has seen.
func (s *StubTransport) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.UploadCalls)
}

// Confirms returns how many Confirm calls the stub has seen.
func (s *StubTransport) Confirms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ConfirmCalls)
}

func (s *StubTransport) waitGate(ctx context.Context) {
	s.mu.Lock()
	gate := s.Gate
	s.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
