// Package mock provides a configurable in-memory VideoProvider for
// tests and local development.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/pkg/models"
)

// MockProvider satisfies models.VideoProvider for testing. The Func
// fields override behavior per test; the defaults simulate a provider
// that completes every operation on the second poll.
type MockProvider struct {
	Name_      string
	SubmitFunc func(ctx context.Context, secret string, req models.SubmitRequest) (string, error)
	PollFunc   func(ctx context.Context, secret string, operationHandle string) (models.PollResult, error)

	mu    sync.Mutex
	polls map[string]int
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Submit(ctx context.Context, secret string, req models.SubmitRequest) (string, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, secret, req)
	}
	return "operations/" + uuid.NewString(), nil
}

func (m *MockProvider) Poll(ctx context.Context, secret string, operationHandle string) (models.PollResult, error) {
	if m.PollFunc != nil {
		return m.PollFunc(ctx, secret, operationHandle)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[operationHandle]++
	if m.polls[operationHandle] < 2 {
		return models.PollResult{RawStatus: "MEDIA_GENERATION_STATUS_PENDING"}, nil
	}
	return models.PollResult{
		RawStatus:   "MEDIA_GENERATION_STATUS_SUCCESSFUL",
		ArtifactURL: fmt.Sprintf("https://videos.example.com/%s.mp4", operationHandle),
	}, nil
}

// NewProvider returns a MockProvider with the default completing
// behavior.
func NewProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		polls: make(map[string]int),
	}
}

// NewFailingProvider returns a MockProvider whose submissions always
// fail with the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		SubmitFunc: func(_ context.Context, _ string, _ models.SubmitRequest) (string, error) {
			return "", err
		},
		polls: make(map[string]int),
	}
}

// NewStuckProvider returns a MockProvider whose operations never reach
// a terminal status, for exercising poll budgets.
func NewStuckProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-stuck",
		PollFunc: func(_ context.Context, _ string, _ string) (models.PollResult, error) {
			return models.PollResult{RawStatus: "MEDIA_GENERATION_STATUS_ACTIVE"}, nil
		},
		polls: make(map[string]int),
	}
}

// Compile-time check that MockProvider implements VideoProvider.
var _ models.VideoProvider = (*MockProvider)(nil)
