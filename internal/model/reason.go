package model

// Reason codes are short symbolic tags recorded on a RawOffer explaining the
// match or no-match decision. They are stable strings; dashboards group on them.
const (
	ReasonMissingTitle       = "MISSING_TITLE"
	ReasonInvalidPrice       = "INVALID_PRICE"
	ReasonMissingIdentity    = "MISSING_IDENTITY"
	ReasonSkipMultiVariant   = "SKIP_MULTI_VARIANT"
	ReasonSkipContract       = "SKIP_CONTRACT"
	ReasonSkipAccessory      = "SKIP_ACCESSORY"
	ReasonMissingModel       = "MISSING_MODEL"
	ReasonLowConfidence      = "LOW_CONFIDENCE"
	ReasonAmbiguousMatch     = "AMBIGUOUS_MATCH"
	ReasonSKUNotInCatalog    = "SKU_NOT_IN_CATALOG"
	ReasonDeterministicMatch = "DETERMINISTIC_SKU_MATCH"
	ReasonDominantMatch      = "DOMINANT_SKU_MATCH"
	ReasonVariantFolded      = "VARIANT_FOLDED"
	ReasonLLMMatch           = "LLM_MATCH"
	ReasonLLMNoMatch         = "LLM_NO_MATCH"
	ReasonLLMAccessory       = "LLM_FLAG_ACCESSORY"
	ReasonLLMContract        = "LLM_FLAG_CONTRACT"
	ReasonLLMBundle          = "LLM_FLAG_BUNDLE"
	ReasonLLMFailed          = "LLM_FAILED"
	ReasonSkipBudget         = "SKIP_BUDGET"
	ReasonSkipLocked         = "SKIP_LOCKED"
	ReasonLLMDisabled        = "LLM_DISABLED"
	ReasonNoCandidates       = "NO_CANDIDATES"
	ReasonBelowMinConfidence = "BELOW_MIN_CONFIDENCE"
	ReasonFXUnavailable      = "FX_UNAVAILABLE"
	ReasonDedupExisting      = "DEDUP_MATCH_EXISTING_OFFER"
	ReasonPromoted           = "PROMOTED"
)
