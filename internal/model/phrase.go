package model

import "time"

// PhraseKind names the detector an admin-managed phrase feeds.
type PhraseKind string

const (
	PhraseContract             PhraseKind = "contract"
	PhraseMultiVariant         PhraseKind = "multi_variant"
	PhraseAccessory            PhraseKind = "accessory"
	PhraseConditionNew         PhraseKind = "condition_new"
	PhraseConditionUsed        PhraseKind = "condition_used"
	PhraseConditionRefurbished PhraseKind = "condition_refurbished"
)

// Valid reports whether k is a known phrase kind.
func (k PhraseKind) Valid() bool {
	switch k {
	case PhraseContract, PhraseMultiVariant, PhraseAccessory,
		PhraseConditionNew, PhraseConditionUsed, PhraseConditionRefurbished:
		return true
	default:
		return false
	}
}

// Phrase is an admin-managed dictionary entry. An empty Lang applies the
// phrase in every market.
type Phrase struct {
	ID        int64      `json:"id"`
	Kind      PhraseKind `json:"kind"`
	Phrase    string     `json:"phrase"`
	Lang      string     `json:"lang,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
