package filing

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mdaSentinel  = "Revenue grew on strong datacenter demand."
	riskSentinel = "Demand for our products may decline."
)

func filler(chars int) string {
	unit := "The company continued to execute on its long term strategy. "
	return strings.Repeat(unit, chars/len(unit)+1)[:chars]
}

func para(text string) string {
	var b strings.Builder
	for _, chunk := range strings.SplitAfter(text, ". ") {
		fmt.Fprintf(&b, "<p>%s</p>", chunk)
	}
	return b.String()
}

// makeFiling builds a synthetic annual report: a table of contents up
// front, then the real item sections in filing order.
func makeFiling(mdaExtra string) []byte {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<div>TABLE OF CONTENTS</div>")
	b.WriteString("<div>Item 1A. Risk Factors</div>")
	b.WriteString("<div>Item 7. Management's Discussion</div>")
	b.WriteString("<div>Item 8. Financial Statements</div>")
	b.WriteString(para(filler(3000)))
	b.WriteString("<h2>Item 1A. Risk Factors</h2>")
	b.WriteString(para(riskSentinel + " " + filler(3000)))
	b.WriteString("<h2>Item 2. Properties</h2>")
	b.WriteString(para("We lease office space in several cities. " + filler(2500)))
	b.WriteString("<h2>Item 7. Management's Discussion</h2>")
	b.WriteString(para(mdaSentinel + " " + mdaExtra + filler(3000)))
	b.WriteString("<h2>Item 7A. Quantitative</h2>")
	b.WriteString(para("Interest rate risk is managed with swaps. " + filler(2500)))
	b.WriteString("<h2>Item 8. Financial Statements</h2>")
	b.WriteString(para(filler(2500)))
	b.WriteString("</body></html>")
	return []byte(b.String())
}

func TestExtractSections(t *testing.T) {
	s, err := ExtractSections(makeFiling(""))
	require.NoError(t, err)

	assert.Contains(t, s.MDA, mdaSentinel)
	assert.NotContains(t, s.MDA, "Interest rate risk")
	assert.NotContains(t, s.MDA, riskSentinel)

	assert.Contains(t, s.Risk, riskSentinel)
	assert.NotContains(t, s.Risk, "We lease office space")

	assert.Equal(t, len(s.MDA), s.MDAChars)
	assert.Equal(t, len(s.Risk), s.RiskChars)
	assert.False(t, s.AIExposure)
}

func TestExtractSections_MissingSections(t *testing.T) {
	s, err := ExtractSections([]byte("<html><body><p>A proxy statement, not a 10-K.</p></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, s.MDA)
	assert.Empty(t, s.Risk)
}

func TestExtractSections_DropsFinancialTables(t *testing.T) {
	extra := "<table><tr><td>NET_INCOME_CELL</td></tr></table> "
	s, err := ExtractSections(makeFiling(extra))
	require.NoError(t, err)
	assert.Contains(t, s.MDA, mdaSentinel)
	assert.NotContains(t, s.MDA, "NET_INCOME_CELL")
}

func TestExtractSections_AIExposure(t *testing.T) {
	extra := "We invest in artificial intelligence and machine learning, including a large language model roadmap. "
	s, err := ExtractSections(makeFiling(extra))
	require.NoError(t, err)
	assert.True(t, s.AIExposure)
}

func TestHasAIExposure_RequiresThreeDistinctTerms(t *testing.T) {
	assert.False(t, hasAIExposure("artificial intelligence artificial intelligence", "machine learning"))
	assert.True(t, hasAIExposure("artificial intelligence and deep learning", "neural network workloads"))
}

func TestSmartTruncate(t *testing.T) {
	short := "unchanged"
	assert.Equal(t, short, smartTruncate(short, 100))

	long := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	got := smartTruncate(long, 200)
	assert.LessOrEqual(t, len(got), 200)
	assert.Contains(t, got, "[...TRUNCATED...]")
	assert.True(t, strings.HasPrefix(got, "aaa"))
	assert.True(t, strings.HasSuffix(got, "zzz"))
}

func TestBestMatch_PrefersLastSubstantialHeader(t *testing.T) {
	// A cross-reference near the end has almost no trailing text; the real
	// section header earlier in the document should win.
	text := "Item 7.\n" + filler(5000) + "\nItem 7.\ntail"
	m := bestMatch(text, item7Pattern)
	require.NotNil(t, m)
	assert.Less(t, m[1], 100)
}
