package extract

import (
	"strings"

	"github.com/sells-group/skuboard/internal/model"
)

// conditionHints maps structured condition values reported by the search
// provider to conditions.
var conditionHints = map[string]model.Condition{
	"new":                   model.ConditionNew,
	"brand new":             model.ConditionNew,
	"refurbished":           model.ConditionRefurbished,
	"refurb":                model.ConditionRefurbished,
	"renewed":               model.ConditionRefurbished,
	"certified refurbished": model.ConditionRefurbished,
	"certified pre-owned":   model.ConditionRefurbished,
	"cpo":                   model.ConditionRefurbished,
	"used":                  model.ConditionUsed,
	"pre-owned":             model.ConditionUsed,
	"pre owned":             model.ConditionUsed,
	"second hand":           model.ConditionUsed,
	"secondhand":            model.ConditionUsed,
	"open box":              model.ConditionUsed,
}

var (
	refurbishedHintWords = []string{"refurb", "renewed", "reconditioned", "整備済", "翻新", "리퍼", "مجدد"}
	usedHintWords        = []string{"used", "pre-owned", "pre owned", "second", "中古", "二手", "중고", "مستعمل", "gebraucht", "occasion"}
	newHintWords         = []string{"new", "sealed", "neu", "neuf", "nuevo", "新品", "全新", "새상품", "새제품", "جديد"}
)

// NormalizeConditionHint maps a structured condition hint to a condition.
// ok is false for empty or unrecognised hints ("damaged", "for parts"),
// which carry no usable signal.
func NormalizeConditionHint(hint string) (c model.Condition, ok bool) {
	h := normalizeText(hint)
	if h == "" {
		return "", false
	}
	if c, ok := conditionHints[h]; ok {
		return c, true
	}
	for _, w := range refurbishedHintWords {
		if strings.Contains(h, w) {
			return model.ConditionRefurbished, true
		}
	}
	for _, w := range usedHintWords {
		if strings.Contains(h, w) {
			return model.ConditionUsed, true
		}
	}
	for _, w := range newHintWords {
		if strings.Contains(h, w) {
			return model.ConditionNew, true
		}
	}
	return "", false
}
