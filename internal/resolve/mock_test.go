package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/skuboard/internal/model"
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

// fakeSource serves a fixed catalog.
type fakeSource struct {
	skus       []model.GoldenSku
	phrases    []model.Phrase
	skusErr    error
	phrasesErr error
}

func (f *fakeSource) ListGoldenSkus(context.Context) ([]model.GoldenSku, error) {
	return f.skus, f.skusErr
}

func (f *fakeSource) ListPhrases(context.Context) ([]model.Phrase, error) {
	return f.phrases, f.phrasesErr
}

var errBoom = eris.New("boom")
