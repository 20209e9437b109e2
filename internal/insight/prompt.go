package insight

import (
	"fmt"

	"github.com/finsight-labs/edgar-insights/internal/filing"
	"github.com/finsight-labs/edgar-insights/internal/model"
)

// systemPrompt is the fixed instruction for every extraction call. The
// output is consumed programmatically, so JSON validity is a hard
// requirement and absent evidence must surface as null, never as prose.
const systemPrompt = `You are a financial analyst AI specialized in extracting structured intelligence from SEC annual filings (10-K and 20-F). Your output is consumed programmatically — JSON validity is a hard requirement.

EXTRACTION RULES:
1. Ground every field strictly in the source text. Do not infer or fabricate.
2. If evidence for a field is absent, use null (not empty string, not "N/A").
3. mda_sentiment_score: integer 1-10 based on management tone. 1=deeply cautionary, 10=highly optimistic.
4. capex_guidance_tone: exactly one of ["aggressive", "conservative", "reducing"]. Use "conservative" when ambiguous.
5. macro_concerns: exactly 3 items. Pad with null if fewer signals found.
6. All string fields: concise (under 120 words), factual, third-person.
7. Output ONLY the JSON object. No preamble, no explanation, no markdown fences.`

const userTemplate = `Analyze the following SEC filing sections and return a single JSON object.

COMPANY: %s
FISCAL YEAR: %d
FILING TYPE: %s
HAS AI EXPOSURE: %s

---BEGIN ITEM 7 (MD&A)---
%s
---END ITEM 7---

---BEGIN ITEM 1A (RISK FACTORS)---
%s
---END ITEM 1A---

REQUIRED JSON SCHEMA:
{
  "ticker": "%s",
  "year": %d,
  "filing_type": "%s",
  "ai_investment_focus": null,
  "ai_monetization_status": null,
  "capex_guidance_tone": "conservative",
  "china_exposure_risk": null,
  "supply_chain_bottlenecks": null,
  "restructuring_plans": null,
  "efficiency_initiatives": null,
  "mda_sentiment_score": 5,
  "macro_concerns": [null, null, null],
  "growing_segments": null,
  "shrinking_segments": null
}

Return ONLY the JSON object.`

const noAINote = "\nNOTE: This company has no apparent AI exposure. Set ai_investment_focus and ai_monetization_status to null."

// buildUserMessage assembles the extraction prompt for one work item.
func buildUserMessage(item model.WorkItem, secs *filing.Sections) string {
	mda := secs.MDA
	if mda == "" {
		mda = "(not available)"
	}
	risk := secs.Risk
	if risk == "" {
		risk = "(not available)"
	}
	aiFlag := "NO"
	if secs.AIExposure {
		aiFlag = "YES"
	}

	msg := fmt.Sprintf(userTemplate,
		item.Ticker, item.Year, item.FilingType, aiFlag,
		mda, risk,
		item.Ticker, item.Year, item.FilingType,
	)
	if !secs.AIExposure {
		msg += noAINote
	}
	return msg
}
