package classifier

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

const systemPrompt = `You classify a single online shopping listing for an Apple iPhone.

You receive a JSON object with the listing title, an optional condition hint
and a list of candidate SKU keys. Decide which candidate the listing is
selling, if any.

Rules:
- Only choose a sku_key that appears verbatim in "candidates". If none fits,
  or the listing could be several of them, use null.
- Set is_accessory when the listing sells a case, charger, screen protector or
  any other product that is not the phone itself.
- Set is_contract when the price depends on a carrier plan, contract or
  installment scheme.
- Set is_bundle when the listing sells several phones or a phone bundled with
  other products.
- condition is "new", "used", "refurbished" or null when unclear.
- confidence is your confidence in sku_key between 0 and 1.

Answer with exactly one JSON object and nothing else:
{"sku_key": string|null, "confidence": number, "condition": string|null,
 "is_accessory": boolean, "is_contract": boolean, "is_bundle": boolean}`

// promptInput is everything the model sees about a listing. The merchant and
// the listing URL are deliberately absent.
type promptInput struct {
	Title         string   `json:"title"`
	ConditionHint string   `json:"condition_hint,omitempty"`
	Candidates    []string `json:"candidates"`
}

func buildUserMessage(req Request, candidates []string) (string, error) {
	raw, err := json.Marshal(promptInput{
		Title:         req.Title,
		ConditionHint: req.ConditionHint,
		Candidates:    candidates,
	})
	if err != nil {
		return "", eris.Wrap(err, "classifier: encode prompt")
	}
	return string(raw), nil
}

// rawVerdict mirrors the output schema. Pointers distinguish missing from zero.
type rawVerdict struct {
	SKUKey      *string  `json:"sku_key"`
	Confidence  *float64 `json:"confidence"`
	Condition   *string  `json:"condition"`
	IsAccessory *bool    `json:"is_accessory"`
	IsContract  *bool    `json:"is_contract"`
	IsBundle    *bool    `json:"is_bundle"`
}

// Verdict is a validated classifier answer.
type Verdict struct {
	SKUKey      string          `json:"sku_key,omitempty"`
	Confidence  float64         `json:"confidence"`
	Condition   model.Condition `json:"condition,omitempty"`
	IsAccessory bool            `json:"is_accessory"`
	IsContract  bool            `json:"is_contract"`
	IsBundle    bool            `json:"is_bundle"`
}

// jsonObject returns the text between the first "{" and the last "}".
func jsonObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", eris.New("classifier: no JSON object in response")
	}
	return text[start : end+1], nil
}

// parseVerdict validates model output against the schema. Unknown fields,
// missing fields, wrong types, unknown conditions and keys outside
// candidates all fail; confidence is clamped to [0,1].
func parseVerdict(text string, candidates []string) (Verdict, error) {
	obj, err := jsonObject(text)
	if err != nil {
		return Verdict{}, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.DisallowUnknownFields()
	var rv rawVerdict
	if err := dec.Decode(&rv); err != nil {
		return Verdict{}, eris.Wrap(err, "classifier: decode verdict")
	}
	if dec.More() {
		return Verdict{}, eris.New("classifier: trailing data after verdict")
	}
	if rv.Confidence == nil || rv.IsAccessory == nil || rv.IsContract == nil || rv.IsBundle == nil {
		return Verdict{}, eris.New("classifier: verdict missing required fields")
	}

	v := Verdict{
		Confidence:  clamp(*rv.Confidence, 0, 1),
		IsAccessory: *rv.IsAccessory,
		IsContract:  *rv.IsContract,
		IsBundle:    *rv.IsBundle,
	}
	if rv.Condition != nil && *rv.Condition != "" {
		c := model.Condition(strings.ToLower(strings.TrimSpace(*rv.Condition)))
		if !c.Valid() {
			return Verdict{}, eris.Errorf("classifier: unknown condition %q", *rv.Condition)
		}
		v.Condition = c
	}
	if rv.SKUKey != nil && *rv.SKUKey != "" {
		key := strings.TrimSpace(*rv.SKUKey)
		if !contains(candidates, key) {
			return Verdict{}, eris.Errorf("classifier: sku_key %q not among candidates", key)
		}
		v.SKUKey = key
	}
	return v, nil
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
