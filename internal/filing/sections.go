// Package filing locates the MD&A and Risk Factor sections inside a raw
// annual filing document. It is deterministic and side-effect free: bytes
// in, section text out.
package filing

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Sections holds the narrative sections relevant to extraction.
type Sections struct {
	MDA  string // Item 7, empty when not found
	Risk string // Item 1A, empty when not found

	// Original lengths before truncation, kept as provenance.
	MDAChars  int
	RiskChars int

	// AIExposure is true when the combined text names enough AI-related
	// terms to treat the issuer as AI-exposed.
	AIExposure bool
}

// Truncation budgets in characters, roughly 80k/40k tokens.
const (
	maxMDAChars  = 280_000
	maxRiskChars = 140_000
)

// Item header patterns. Filings render headers inconsistently ("ITEM 7.",
// "Item 7 —", "Item 7A: Quantitative ..."), so the patterns anchor on line
// starts and tolerate punctuation variants. "Item 7A" cannot match the
// Item 7 pattern because nothing in its tail consumes the "A".
var (
	item7Pattern = regexp.MustCompile(
		`(?im)(?:^|\n)(?:ITEM|Item)\.?\s+7[.\s\-—:]*(?:MANAGEMENT['’S]*\s+DISCUSSION|MD&A)?[.\s]*\n`)
	item7APattern = regexp.MustCompile(
		`(?im)(?:^|\n)(?:ITEM|Item)\s+7A[.\s\-—:]*(?:QUANTITATIVE|Quantitative)?[.\s]*\n`)
	item8Pattern = regexp.MustCompile(
		`(?im)(?:^|\n)(?:ITEM|Item)\s+8[.\s\-—:]*(?:FINANCIAL\s+STATEMENTS?|Financial\s+Statements?)?[.\s]*\n`)
	item1APattern = regexp.MustCompile(
		`(?im)(?:^|\n)(?:ITEM|Item)\s+1A[.\s\-—:]*(?:RISK\s+FACTORS?|Risk\s+Factors?)?[.\s]*\n`)
	item2Pattern = regexp.MustCompile(
		`(?im)(?:^|\n)(?:ITEM|Item)\s+2[.\s\-—:]*(?:PROPERTIES?|Properties?)?[.\s]*\n`)

	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// aiTerms drive the AI-exposure scan; three or more distinct hits across
// MD&A and risk text flag the issuer as AI-exposed.
var aiTerms = []string{
	"artificial intelligence", "machine learning", "generative ai",
	"large language model", "llm", "neural network", "gpu cluster",
	"ai infrastructure", "foundation model", "deep learning",
}

const aiTermThreshold = 3

// ExtractSections parses the filing HTML and carves out the MD&A and Risk
// Factor sections.
func ExtractSections(raw []byte) (*Sections, error) {
	text, err := stripHTML(raw)
	if err != nil {
		return nil, err
	}

	// Skip the table-of-contents region so item headers listed there don't
	// shadow the real sections. Capped to avoid over-skipping short filings.
	tocSkip := min(len(text)/7, 50_000)
	body := text[tocSkip:]

	mda := extractBetween(body, item7Pattern, item7APattern, item8Pattern)
	risk := extractBetween(body, item1APattern, item2Pattern, item7Pattern)

	s := &Sections{
		MDAChars:   len(mda),
		RiskChars:  len(risk),
		MDA:        smartTruncate(mda, maxMDAChars),
		Risk:       smartTruncate(risk, maxRiskChars),
		AIExposure: hasAIExposure(mda, risk),
	}
	return s, nil
}

// stripHTML renders the filing to plain text with block elements separated
// by newlines, dropping scripts, styles, and financial tables.
func stripHTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", eris.Wrap(err, "filing: parse HTML")
	}

	doc.Find("script, style, table").Remove()

	// Force line breaks at block boundaries so item headers stay
	// line-anchored for the section patterns.
	doc.Find("p, div, br, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml("\n")
	})

	text := doc.Text()
	text = multiSpace.ReplaceAllString(text, " ")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

// bestMatch prefers the last header occurrence that still has substantial
// text after it; earlier hits are usually cross-references.
func bestMatch(text string, pattern *regexp.Regexp) []int {
	matches := pattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	for i := len(matches) - 1; i >= 0; i-- {
		if len(text)-matches[i][1] > 2000 {
			return matches[i]
		}
	}
	return matches[len(matches)-1]
}

func extractBetween(text string, start *regexp.Regexp, ends ...*regexp.Regexp) string {
	m := bestMatch(text, start)
	if m == nil {
		return ""
	}
	from := m[1]
	to := len(text)
	for _, end := range ends {
		if em := end.FindStringIndex(text[from:]); em != nil && from+em[0] < to {
			to = from + em[0]
		}
	}
	return strings.TrimSpace(text[from:to])
}

// smartTruncate keeps 70% of the budget from the front and 30% from the
// rear, since conclusions and outlook language cluster at section ends.
func smartTruncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	const marker = "\n\n[...TRUNCATED...]\n\n"
	budget := maxChars - len(marker)
	front := budget * 70 / 100
	rear := budget - front
	return text[:front] + marker + text[len(text)-rear:]
}

func hasAIExposure(mda, risk string) bool {
	combined := strings.ToLower(mda + risk)
	hits := 0
	for _, term := range aiTerms {
		if strings.Contains(combined, term) {
			hits++
		}
	}
	return hits >= aiTermThreshold
}
