package classifier

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/skuboard/pkg/anthropic"
)

// mockClient is a testify mock of anthropic.Client.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*anthropic.MessageResponse)
	return resp, args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

// lockedCache refuses every lease, as if another worker held it.
type lockedCache struct {
	values map[string]string
}

func (c *lockedCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *lockedCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.values[key] = value
	return nil
}

func (c *lockedCache) Delete(context.Context, ...string) error { return nil }

func (c *lockedCache) AcquireLease(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (c *lockedCache) ReleaseLease(context.Context, string, string) error { return nil }
