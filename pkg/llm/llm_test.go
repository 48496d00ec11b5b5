package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"toolagent/pkg/config"
	"toolagent/pkg/llm"
)

// flakyClient fails its first n opens with err.
type flakyClient struct {
	name  string
	fails int
	err   error
	opens int
}

func (c *flakyClient) Provider() string { return c.name }

func (c *flakyClient) StreamChat(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (*llm.Stream, error) {
	c.opens++
	if c.opens <= c.fails {
		return nil, c.err
	}
	return llm.NewStream(llm.NewSliceSource(
		llm.TextEvent(c.name, llm.ChannelContent),
		llm.FinishEvent(llm.FinishReasonStop),
		llm.DoneEvent(),
	)), nil
}

func (c *flakyClient) Chat(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (*llm.ChatResponse, error) {
	s, err := c.StreamChat(ctx, messages, defs)
	if err != nil {
		return nil, err
	}
	return llm.CollectResponse(s)
}

func (c *flakyClient) IsTransientError(err error) bool { return llm.IsTransient(err) }

func TestFallbackClient(t *testing.T) {
	transient := &llm.BackendError{StatusCode: 503, Body: "busy"}
	fatal := &llm.BackendError{StatusCode: 401, Body: "bad key"}

	tests := []struct {
		name       string
		first      *flakyClient
		second     *flakyClient
		wantText   string
		wantErr    bool
		firstOpens int
	}{
		{"first succeeds", &flakyClient{name: "a"}, &flakyClient{name: "b"}, "a", false, 1},
		{"transient retried", &flakyClient{name: "a", fails: 2, err: transient}, &flakyClient{name: "b"}, "a", false, 3},
		{"retries exhausted", &flakyClient{name: "a", fails: 5, err: transient}, &flakyClient{name: "b"}, "b", false, 3},
		{"fatal falls back at once", &flakyClient{name: "a", fails: 1, err: fatal}, &flakyClient{name: "b"}, "b", false, 1},
		{"all fail", &flakyClient{name: "a", fails: 9, err: fatal}, &flakyClient{name: "b", fails: 9, err: fatal}, "", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &llm.FallbackClient{
				Clients:    []llm.LLMClient{tt.first, tt.second},
				MaxRetries: 3,
			}
			resp, err := f.Chat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var be *llm.BackendError
				if !errors.As(err, &be) || be.StatusCode != 401 {
					t.Errorf("last error not wrapped: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if resp.Content != tt.wantText {
				t.Errorf("answered by %q, want %q", resp.Content, tt.wantText)
			}
			if tt.first.opens != tt.firstOpens {
				t.Errorf("first client opened %d times, want %d", tt.first.opens, tt.firstOpens)
			}
		})
	}
}

func TestFallbackClient_CanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &llm.FallbackClient{
		Clients:    []llm.LLMClient{&flakyClient{name: "a", fails: 5, err: &llm.BackendError{StatusCode: 429}}},
		MaxRetries: 3,
		RetryDelay: time.Hour,
	}
	_, err := f.StreamChat(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type fakeFactory struct{}

func (fakeFactory) Create(pc config.ProviderConfig, cfg *config.Config) ([]llm.LLMClient, error) {
	var out []llm.LLMClient
	for _, m := range pc.Models {
		out = append(out, &flakyClient{name: m})
	}
	return out, nil
}

func TestNewFromConfig(t *testing.T) {
	llm.RegisterProvider("fake-test", fakeFactory{})

	t.Run("single client returned as is", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers = []config.ProviderConfig{{Type: "fake-test", Models: []string{"m1"}}}
		c, err := llm.NewFromConfig(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if c.Provider() != "m1" {
			t.Errorf("provider: %s", c.Provider())
		}
	})

	t.Run("several wrapped in fallback, unknown skipped", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers = []config.ProviderConfig{
			{Type: "nope", Models: []string{"x"}},
			{Type: "fake-test", Models: []string{"m1", "m2"}},
		}
		c, err := llm.NewFromConfig(cfg)
		if err != nil {
			t.Fatal(err)
		}
		f, ok := c.(*llm.FallbackClient)
		if !ok {
			t.Fatalf("expected FallbackClient, got %T", c)
		}
		if len(f.Clients) != 2 || f.MaxRetries != cfg.MaxRetries {
			t.Errorf("unexpected fallback: %+v", f)
		}
	})

	t.Run("nothing usable", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers = []config.ProviderConfig{{Type: "nope", Models: []string{"x"}}}
		if _, err := llm.NewFromConfig(cfg); err == nil {
			t.Fatal("expected error")
		}
	})
}
