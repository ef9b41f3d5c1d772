// Package classifier is the gateway to the LLM fallback. It decides whether a
// listing may be sent, bounds the candidate set, de-duplicates concurrent
// calls through cache leases and validates the untrusted answer.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/pkg/anthropic"
)

// Kind tags a gateway result.
type Kind string

const (
	Classified Kind = "classified"
	Skipped    Kind = "skipped"
	Failed     Kind = "failed"
)

// Config controls the gateway.
type Config struct {
	Enabled       bool
	Model         string
	MaxTokens     int64
	MaxCalls      int
	MaxFraction   float64
	MaxCandidates int
	CacheTTL      time.Duration
	LockTTL       time.Duration
	// RequestsPerSecond paces outgoing calls; 0 disables pacing.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "claude-haiku-4-5"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 300
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 12
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

// Request is one listing offered to the gateway.
type Request struct {
	Title         string
	ConditionHint string
	// Merchant only participates in the cache key; it is never sent out.
	Merchant   string
	Attrs      model.ExtractedAttrs
	Flags      model.Flags
	Candidates []string
}

// Result is the tagged outcome of Classify.
type Result struct {
	Kind    Kind     `json:"kind"`
	Verdict *Verdict `json:"verdict,omitempty"`
	// Reason is a reason code for Skipped and Failed results.
	Reason string `json:"reason,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

// Reasons returns the reason codes the result contributes to a RawOffer.
func (r Result) Reasons() []string {
	switch r.Kind {
	case Classified:
		var out []string
		if r.Verdict.SKUKey != "" {
			out = append(out, model.ReasonLLMMatch)
		} else {
			out = append(out, model.ReasonLLMNoMatch)
		}
		if r.Verdict.IsAccessory {
			out = append(out, model.ReasonLLMAccessory)
		}
		if r.Verdict.IsContract {
			out = append(out, model.ReasonLLMContract)
		}
		if r.Verdict.IsBundle {
			out = append(out, model.ReasonLLMBundle)
		}
		return out
	default:
		if r.Reason == "" {
			return nil
		}
		return []string{r.Reason}
	}
}

// Gateway wraps the external classifier.
type Gateway struct {
	client  anthropic.Client
	cache   cache.Cache
	guard   *resilience.Guard
	limiter *rate.Limiter
	cfg     Config
	log     *zap.Logger
}

// New creates a gateway. A nil client disables classification.
func New(client anthropic.Client, c cache.Cache, guard *resilience.Guard, cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	if c == nil {
		c = cache.Nop{}
	}
	if guard == nil {
		guard = resilience.NewGuard("anthropic", resilience.GuardConfig{Timeout: 30 * time.Second})
	}
	g := &Gateway{
		client: client,
		cache:  c,
		guard:  guard,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "classifier")),
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config {
	return g.cfg
}

// Enabled reports whether the gateway can call out at all.
func (g *Gateway) Enabled() bool {
	return g.cfg.Enabled && g.client != nil
}

// NewBudget sizes a per-run budget from the gateway's configuration.
func (g *Gateway) NewBudget(planned int) *Budget {
	return NewBudget(g.cfg.MaxCalls, g.cfg.MaxFraction, planned)
}

// Eligible applies the eligibility gate that does not depend on run state:
// excluded listings never go out, and only low-confidence or
// medium-with-a-missing-attribute extractions qualify.
func Eligible(a model.ExtractedAttrs, f model.Flags) (bool, string) {
	switch {
	case f.IsMultiVariant:
		return false, model.ReasonSkipMultiVariant
	case f.IsContract:
		return false, model.ReasonSkipContract
	case f.IsAccessory:
		return false, model.ReasonSkipAccessory
	}
	switch a.Confidence {
	case model.ConfidenceHigh:
		return false, ""
	case model.ConfidenceMedium:
		if a.Storage == "" || a.Color == "" || a.Model == "" {
			return true, ""
		}
		return false, ""
	default:
		return true, ""
	}
}

// CacheKey is the deterministic key for a request: normalized title,
// condition hint, merchant and a fingerprint of the candidate set.
func CacheKey(req Request, candidates []string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	fp := sha256.Sum256([]byte(strings.Join(sorted, "\n")))

	h := sha256.New()
	for _, part := range []string{
		fold(req.Title),
		fold(req.ConditionHint),
		model.NormalizeMerchantName(req.Merchant),
		hex.EncodeToString(fp[:]),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "classify:v1:" + hex.EncodeToString(h.Sum(nil))
}

func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFKC.String(s))), " ")
}

// bounded trims the candidate set to the configured maximum.
func (g *Gateway) bounded(candidates []string) []string {
	if len(candidates) > g.cfg.MaxCandidates {
		return candidates[:g.cfg.MaxCandidates]
	}
	return candidates
}

// Classify decides whether to call the classifier for req and, if so, does.
// Only successful, validated answers are cached; failures are retried by
// later runs.
func (g *Gateway) Classify(ctx context.Context, req Request, budget *Budget) Result {
	if !g.Enabled() {
		return Result{Kind: Skipped, Reason: model.ReasonLLMDisabled}
	}
	if ok, reason := Eligible(req.Attrs, req.Flags); !ok {
		return Result{Kind: Skipped, Reason: reason}
	}
	candidates := g.bounded(req.Candidates)
	if len(candidates) == 0 {
		return Result{Kind: Skipped, Reason: model.ReasonNoCandidates}
	}
	if budget == nil {
		budget = Unlimited()
	}

	key := CacheKey(req, candidates)
	if v, ok := g.lookup(ctx, key, candidates); ok {
		return Result{Kind: Classified, Verdict: v, Cached: true}
	}

	token, acquired, err := g.cache.AcquireLease(ctx, key, g.cfg.LockTTL)
	switch {
	case err != nil:
		g.log.Warn("classifier lease unavailable, proceeding without it", zap.Error(err))
	case !acquired:
		return Result{Kind: Skipped, Reason: model.ReasonSkipLocked}
	default:
		defer func() {
			if err := g.cache.ReleaseLease(context.WithoutCancel(ctx), key, token); err != nil {
				g.log.Warn("classifier lease release failed", zap.Error(err))
			}
		}()
		// Another holder may have finished between the lookup and the lease.
		if v, ok := g.lookup(ctx, key, candidates); ok {
			return Result{Kind: Classified, Verdict: v, Cached: true}
		}
	}

	if !budget.TryTake() {
		return Result{Kind: Skipped, Reason: model.ReasonSkipBudget}
	}

	v, err := g.call(ctx, req, candidates)
	if err != nil {
		g.log.Warn("classifier call failed",
			zap.String("title", req.Title),
			zap.String("condition_hint", req.ConditionHint),
			zap.Strings("candidates", candidates),
			zap.Error(err),
		)
		return Result{Kind: Failed, Reason: model.ReasonLLMFailed}
	}
	if err := cache.SetJSON(ctx, g.cache, key, v, g.cfg.CacheTTL); err != nil {
		g.log.Warn("classifier cache write failed", zap.Error(err))
	}
	return Result{Kind: Classified, Verdict: &v}
}

// Peek returns a cached verdict for req without calling out.
func (g *Gateway) Peek(ctx context.Context, req Request) (*Verdict, bool) {
	candidates := g.bounded(req.Candidates)
	if len(candidates) == 0 {
		return nil, false
	}
	return g.lookup(ctx, CacheKey(req, candidates), candidates)
}

// lookup re-validates cached verdicts against the current candidate set.
func (g *Gateway) lookup(ctx context.Context, key string, candidates []string) (*Verdict, bool) {
	var v Verdict
	ok, err := cache.GetJSON(ctx, g.cache, key, &v)
	if err != nil {
		g.log.Warn("classifier cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || (v.SKUKey != "" && !contains(candidates, v.SKUKey)) {
		return nil, false
	}
	return &v, true
}

func (g *Gateway) call(ctx context.Context, req Request, candidates []string) (Verdict, error) {
	user, err := buildUserMessage(req, candidates)
	if err != nil {
		return Verdict{}, err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Verdict{}, err
		}
	}

	temp := 0.0
	resp, err := resilience.Call(ctx, g.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       g.cfg.Model,
			MaxTokens:   g.cfg.MaxTokens,
			System:      []anthropic.SystemBlock{{Text: systemPrompt}},
			Messages:    []anthropic.Message{{Role: "user", Content: user}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return Verdict{}, err
	}
	resp.Usage.LogCost(g.cfg.Model, "classify")
	return parseVerdict(resp.Text(), candidates)
}
