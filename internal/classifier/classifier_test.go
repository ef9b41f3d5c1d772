package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/pkg/anthropic"
)

var candidates = []string{
	"iphone-16-pro-256gb-black-new",
	"iphone-16-pro-256gb-white-new",
}

func lowRequest() Request {
	return Request{
		Title:    "Apple 16 Pro 256 black new",
		Merchant: "Shop A",
		Attrs: model.ExtractedAttrs{
			Model: "iphone-16-pro", Storage: "256gb", Condition: model.ConditionNew,
			Confidence: model.ConfidenceMedium,
		},
		Candidates: candidates,
	}
}

func testGateway(client anthropic.Client, c cache.Cache) *Gateway {
	guard := resilience.NewGuard("anthropic", resilience.GuardConfig{
		Timeout: time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})
	return New(client, c, guard, Config{Enabled: true, Model: "claude-haiku-4-5"})
}

func TestClassify_Success(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		msg := req.Messages[0].Content
		return req.Model == "claude-haiku-4-5" &&
			strings.Contains(msg, "Apple 16 Pro 256 black new") &&
			strings.Contains(msg, candidates[0]) &&
			!strings.Contains(msg, "Shop A")
	})).Return(textResponse(`Here you go: {"sku_key":"iphone-16-pro-256gb-black-new","confidence":1.7,"condition":"new","is_accessory":false,"is_contract":false,"is_bundle":false}`), nil).Once()

	g := testGateway(client, cache.NewMemory())
	budget := NewBudget(10, 0, 0)
	res := g.Classify(context.Background(), lowRequest(), budget)

	require.Equal(t, Classified, res.Kind)
	assert.Equal(t, "iphone-16-pro-256gb-black-new", res.Verdict.SKUKey)
	assert.Equal(t, 1.0, res.Verdict.Confidence, "confidence is clamped")
	assert.Equal(t, []string{model.ReasonLLMMatch}, res.Reasons())
	assert.Equal(t, 1, budget.Used())

	// Second call is served from cache without consuming budget.
	res = g.Classify(context.Background(), lowRequest(), budget)
	require.Equal(t, Classified, res.Kind)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, budget.Used())
	client.AssertExpectations(t)

	v, ok := g.Peek(context.Background(), lowRequest())
	require.True(t, ok)
	assert.Equal(t, "iphone-16-pro-256gb-black-new", v.SKUKey)
}

func TestClassify_InvalidOutputFails(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "I think it is the black one"},
		{"unknown field", `{"sku_key":null,"confidence":0.5,"condition":null,"is_accessory":false,"is_contract":false,"is_bundle":false,"trust":100}`},
		{"key outside candidates", `{"sku_key":"iphone-15-128gb-black-new","confidence":0.9,"condition":"new","is_accessory":false,"is_contract":false,"is_bundle":false}`},
		{"missing field", `{"sku_key":null,"confidence":0.5}`},
		{"bad condition", `{"sku_key":null,"confidence":0.5,"condition":"mint","is_accessory":false,"is_contract":false,"is_bundle":false}`},
		{"wrong type", `{"sku_key":1,"confidence":0.5,"condition":null,"is_accessory":false,"is_contract":false,"is_bundle":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(tt.text), nil).Once()
			mem := cache.NewMemory()
			g := testGateway(client, mem)

			res := g.Classify(context.Background(), lowRequest(), Unlimited())
			assert.Equal(t, Failed, res.Kind)
			assert.Nil(t, res.Verdict)
			assert.Equal(t, []string{model.ReasonLLMFailed}, res.Reasons())

			_, cached := g.Peek(context.Background(), lowRequest())
			assert.False(t, cached, "failures are not cached")
		})
	}
}

func TestClassify_ClientErrorFails(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	g := testGateway(client, cache.NewMemory())

	res := g.Classify(context.Background(), lowRequest(), Unlimited())
	assert.Equal(t, Failed, res.Kind)
	client.AssertExpectations(t)
}

func TestClassify_NoMatchVerdict(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"sku_key":null,"confidence":0.2,"condition":null,"is_accessory":true,"is_contract":false,"is_bundle":true}`), nil).Once()
	g := testGateway(client, cache.NewMemory())

	res := g.Classify(context.Background(), lowRequest(), Unlimited())
	require.Equal(t, Classified, res.Kind)
	assert.Empty(t, res.Verdict.SKUKey)
	assert.Equal(t, []string{model.ReasonLLMNoMatch, model.ReasonLLMAccessory, model.ReasonLLMBundle}, res.Reasons())
}

func TestClassify_ExcludedListingsNeverCallOut(t *testing.T) {
	client := &mockClient{}
	g := testGateway(client, cache.NewMemory())

	for _, tc := range []struct {
		flags  model.Flags
		reason string
	}{
		{model.Flags{IsMultiVariant: true}, model.ReasonSkipMultiVariant},
		{model.Flags{IsContract: true}, model.ReasonSkipContract},
		{model.Flags{IsAccessory: true}, model.ReasonSkipAccessory},
	} {
		req := lowRequest()
		req.Flags = tc.flags
		for i := 0; i < 2; i++ {
			res := g.Classify(context.Background(), req, Unlimited())
			assert.Equal(t, Skipped, res.Kind)
			assert.Equal(t, tc.reason, res.Reason)
		}
	}
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestClassify_SkipReasons(t *testing.T) {
	client := &mockClient{}

	disabled := New(client, cache.NewMemory(), nil, Config{Enabled: false})
	assert.Equal(t, model.ReasonLLMDisabled, disabled.Classify(context.Background(), lowRequest(), nil).Reason)
	assert.Equal(t, model.ReasonLLMDisabled, New(nil, nil, nil, Config{Enabled: true}).Classify(context.Background(), lowRequest(), nil).Reason)

	g := testGateway(client, cache.NewMemory())
	req := lowRequest()
	req.Candidates = nil
	assert.Equal(t, model.ReasonNoCandidates, g.Classify(context.Background(), req, nil).Reason)

	high := lowRequest()
	high.Attrs.Color = "black"
	high.Attrs.Confidence = model.ConfidenceHigh
	res := g.Classify(context.Background(), high, nil)
	assert.Equal(t, Skipped, res.Kind)

	locked := testGateway(client, &lockedCache{values: map[string]string{}})
	assert.Equal(t, model.ReasonSkipLocked, locked.Classify(context.Background(), lowRequest(), nil).Reason)

	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestClassify_BudgetEnforcement(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"sku_key":null,"confidence":0.1,"condition":null,"is_accessory":false,"is_contract":false,"is_bundle":false}`), nil)
	g := testGateway(client, cache.NewMemory())

	const n, k = 10, 3
	budget := NewBudget(k, 0, n)
	var mu sync.Mutex
	kinds := map[Kind]int{}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := lowRequest()
			req.Title = req.Title + " listing " + string(rune('a'+i))
			res := g.Classify(context.Background(), req, budget)
			mu.Lock()
			kinds[res.Kind]++
			if res.Kind == Skipped {
				assert.Equal(t, model.ReasonSkipBudget, res.Reason)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, k, kinds[Classified])
	assert.Equal(t, n-k, kinds[Skipped])
	assert.True(t, budget.Exhausted())
	client.AssertNumberOfCalls(t, "CreateMessage", k)
}

func TestEligible(t *testing.T) {
	ok, _ := Eligible(model.ExtractedAttrs{Confidence: model.ConfidenceLow}, model.Flags{})
	assert.True(t, ok)

	ok, _ = Eligible(model.ExtractedAttrs{Model: "iphone-16", Color: "black", Confidence: model.ConfidenceMedium}, model.Flags{})
	assert.True(t, ok)

	ok, _ = Eligible(model.ExtractedAttrs{Model: "iphone-16", Storage: "128gb", Color: "black", Confidence: model.ConfidenceHigh}, model.Flags{})
	assert.False(t, ok)

	ok, reason := Eligible(model.ExtractedAttrs{Confidence: model.ConfidenceLow}, model.Flags{IsContract: true, IsMultiVariant: true})
	assert.False(t, ok)
	assert.Equal(t, model.ReasonSkipMultiVariant, reason)
}

func TestCacheKey(t *testing.T) {
	a := lowRequest()
	b := lowRequest()
	b.Title = "  APPLE 16 pro   256 Black NEW "
	b.Candidates = []string{candidates[1], candidates[0]}
	assert.Equal(t, CacheKey(a, a.Candidates), CacheKey(b, b.Candidates), "normalization and candidate order do not matter")

	c := lowRequest()
	c.Merchant = "Shop B"
	assert.NotEqual(t, CacheKey(a, a.Candidates), CacheKey(c, c.Candidates))

	d := lowRequest()
	assert.NotEqual(t, CacheKey(a, a.Candidates), CacheKey(d, candidates[:1]))
}

func TestBudget(t *testing.T) {
	b := NewBudget(10, 0.2, 20)
	assert.Equal(t, 4, b.Limit(), "fraction binds first")

	b = NewBudget(2, 0.5, 100)
	assert.Equal(t, 2, b.Limit(), "absolute cap binds first")

	b = NewBudget(0, 0.1, 5)
	assert.Equal(t, 0, b.Limit())
	assert.False(t, b.TryTake())
	assert.True(t, b.Exhausted())

	b = NewBudget(1, 0, 0)
	assert.True(t, b.TryTake())
	assert.Equal(t, 0, b.Remaining())
	assert.False(t, b.Exhausted())
	assert.False(t, b.TryTake())
	assert.True(t, b.Exhausted())
}

func TestJSONObject(t *testing.T) {
	obj, err := jsonObject("prefix {\"a\":1} suffix")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, obj)

	_, err = jsonObject("no braces")
	assert.Error(t, err)
}
