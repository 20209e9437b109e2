package insight

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/finsight-labs/edgar-insights/internal/model"
)

// requiredFields must all be present as keys in the response object. Null
// values are legitimate (explicit "no evidence"); missing keys are not.
var requiredFields = []string{
	"ai_investment_focus", "ai_monetization_status", "capex_guidance_tone",
	"china_exposure_risk", "supply_chain_bottlenecks", "restructuring_plans",
	"efficiency_initiatives", "mda_sentiment_score", "macro_concerns",
	"growing_segments", "shrinking_segments",
}

// parseInsight decodes, normalizes, and validates a model response.
// Identity fields (ticker, year, filing type) always come from the work
// item, never from the model.
func parseInsight(text string, item model.WorkItem) (*model.Insight, error) {
	cleaned := cleanJSON(text)

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &keys); err != nil {
		return nil, eris.Wrap(err, "insight: response is not a JSON object")
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := keys[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("insight: missing fields: %s", strings.Join(missing, ", "))
	}

	var raw struct {
		AIInvestmentFocus      *string         `json:"ai_investment_focus"`
		AIMonetizationStatus   *string         `json:"ai_monetization_status"`
		CapexGuidanceTone      string          `json:"capex_guidance_tone"`
		ChinaExposureRisk      *string         `json:"china_exposure_risk"`
		SupplyChainBottlenecks *string         `json:"supply_chain_bottlenecks"`
		RestructuringPlans     *string         `json:"restructuring_plans"`
		EfficiencyInitiatives  *string         `json:"efficiency_initiatives"`
		MDASentimentScore      json.RawMessage `json:"mda_sentiment_score"`
		MacroConcerns          []*string       `json:"macro_concerns"`
		GrowingSegments        *string         `json:"growing_segments"`
		ShrinkingSegments      *string         `json:"shrinking_segments"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "insight: decode response")
	}

	score, err := parseScore(raw.MDASentimentScore)
	if err != nil {
		return nil, err
	}

	in := &model.Insight{
		Ticker:                 strings.ToUpper(item.Ticker),
		Year:                   item.Year,
		FilingType:             item.FilingType,
		AIInvestmentFocus:      raw.AIInvestmentFocus,
		AIMonetizationStatus:   raw.AIMonetizationStatus,
		CapexGuidanceTone:      normalizeCapex(raw.CapexGuidanceTone),
		ChinaExposureRisk:      raw.ChinaExposureRisk,
		SupplyChainBottlenecks: raw.SupplyChainBottlenecks,
		RestructuringPlans:     raw.RestructuringPlans,
		EfficiencyInitiatives:  raw.EfficiencyInitiatives,
		MDASentimentScore:      score,
		MacroConcerns:          padConcerns(raw.MacroConcerns),
		GrowingSegments:        raw.GrowingSegments,
		ShrinkingSegments:      raw.ShrinkingSegments,
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// parseScore accepts both a JSON number and a quoted integer; models
// occasionally emit "7" despite the schema.
func parseScore(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, eris.Errorf("insight: mda_sentiment_score %q is not an integer", string(raw))
	}
	return n, nil
}

// normalizeCapex applies the prompt contract: conservative when ambiguous.
func normalizeCapex(tone string) model.CapexTone {
	switch t := model.CapexTone(strings.ToLower(strings.TrimSpace(tone))); t {
	case model.CapexAggressive, model.CapexConservative, model.CapexReducing:
		return t
	default:
		return model.CapexConservative
	}
}

// padConcerns fixes macro_concerns at exactly three entries, nil-padded.
func padConcerns(concerns []*string) []*string {
	out := make([]*string, model.MacroConcernCount)
	copy(out, concerns)
	return out
}

// cleanJSON strips markdown fences and extracts the JSON object body.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
