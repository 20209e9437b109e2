package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// CapexTone is the enumerated capital-expenditure guidance tone.
type CapexTone string

const (
	CapexAggressive   CapexTone = "aggressive"
	CapexConservative CapexTone = "conservative"
	CapexReducing     CapexTone = "reducing"
)

// MacroConcernCount is the fixed length of the macro_concerns list. The
// extractor pads with nulls when fewer signals are found.
const MacroConcernCount = 3

// Insight is the structured extraction result for one (ticker, year).
// Nil pointers mean "no evidence in the filing", never an empty string.
// Insights are append-only: a re-extraction produces a new record and the
// ledger governs whether re-extraction is attempted at all.
type Insight struct {
	Ticker     string     `json:"ticker"`
	Tier       string     `json:"tier,omitempty"`
	Year       int        `json:"year"`
	FilingType FilingType `json:"filing_type"`

	AIInvestmentFocus      *string   `json:"ai_investment_focus"`
	AIMonetizationStatus   *string   `json:"ai_monetization_status"`
	CapexGuidanceTone      CapexTone `json:"capex_guidance_tone"`
	ChinaExposureRisk      *string   `json:"china_exposure_risk"`
	SupplyChainBottlenecks *string   `json:"supply_chain_bottlenecks"`
	RestructuringPlans     *string   `json:"restructuring_plans"`
	EfficiencyInitiatives  *string   `json:"efficiency_initiatives"`
	MDASentimentScore      int       `json:"mda_sentiment_score"`
	MacroConcerns          []*string `json:"macro_concerns"`
	GrowingSegments        *string   `json:"growing_segments"`
	ShrinkingSegments      *string   `json:"shrinking_segments"`

	// Provenance, filled by the pipeline rather than the model.
	MDAChars    int       `json:"mda_chars,omitempty"`
	RiskChars   int       `json:"risk_chars,omitempty"`
	Model       string    `json:"model,omitempty"`
	ExtractedAt time.Time `json:"extracted_at,omitempty"`
}

// Validate checks the schema invariants. A failing insight is never
// persisted; the caller treats validation failure as retryable until
// attempts run out, then permanent.
func (in *Insight) Validate() error {
	if in.Ticker == "" {
		return eris.New("insight: missing ticker")
	}
	if in.Year == 0 {
		return eris.New("insight: missing year")
	}
	switch in.CapexGuidanceTone {
	case CapexAggressive, CapexConservative, CapexReducing:
	default:
		return eris.Errorf("insight: capex_guidance_tone %q not in enum", in.CapexGuidanceTone)
	}
	if in.MDASentimentScore < 1 || in.MDASentimentScore > 10 {
		return eris.Errorf("insight: mda_sentiment_score %d outside [1,10]", in.MDASentimentScore)
	}
	if len(in.MacroConcerns) != MacroConcernCount {
		return eris.Errorf("insight: macro_concerns has %d entries, want %d", len(in.MacroConcerns), MacroConcernCount)
	}
	return nil
}
