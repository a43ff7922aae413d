package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubProvider fails a fixed number of times before succeeding.
type stubProvider struct {
	failures int
	calls    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("transient failure")
	}
	return &CompletionResponse{Content: "ok"}, nil
}

func TestRetryProviderSucceedsAfterFailures(t *testing.T) {
	stub := &stubProvider{failures: 2}
	p := NewRetryProvider(stub, 2, time.Second)
	p.baseDelay = time.Millisecond

	resp, err := p.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected ok, got %q", resp.Content)
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", stub.calls)
	}
}

func TestRetryProviderExhaustsBudget(t *testing.T) {
	stub := &stubProvider{failures: 100}
	p := NewRetryProvider(stub, 2, time.Second)
	p.baseDelay = time.Millisecond

	_, err := p.Complete(context.Background(), CompletionRequest{})
	if err == nil {
		t.Fatal("expected error after budget exhausted")
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", stub.calls)
	}
}

func TestRetryProviderRespectsContextCancel(t *testing.T) {
	stub := &stubProvider{failures: 100}
	p := NewRetryProvider(stub, 5, time.Second)
	p.baseDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRateLimitedProviderPassesThrough(t *testing.T) {
	stub := &stubProvider{}
	p := NewRateLimitedProvider(stub, 60)

	resp, err := p.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected ok, got %q", resp.Content)
	}
	if p.Name() != "stub" {
		t.Errorf("expected wrapped name, got %q", p.Name())
	}
}

func TestNewProviderUnsupported(t *testing.T) {
	if _, err := NewProvider("bard", "model"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewProviderOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewProvider("openai", "gpt-4o-mini"); err == nil {
		t.Error("expected error when OPENAI_API_KEY is unset")
	}
}
