package reconcile

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/skuboard/pkg/anthropic"
)

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
	}
}

type fakeFX map[string]float64

func (f fakeFX) Rate(_ context.Context, currency string) (float64, error) {
	r, ok := f[strings.ToUpper(currency)]
	if !ok {
		return 0, eris.Errorf("no rate for %s", currency)
	}
	return r, nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
