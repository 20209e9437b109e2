package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/finsight-labs/edgar-insights/internal/model"
)

// GapReport compares the configured universe against the ledger.
type GapReport struct {
	Universe int
	Done     int
	NoFiling int
	Failed   int
	Missing  []model.WorkItem
	FailedBy map[string][]int // ticker -> fiscal years
}

// BuildGapReport classifies every work item in the universe by its ledger
// state. Missing means no terminal ledger row exists yet.
func BuildGapReport(items []model.WorkItem, done map[string]model.LedgerStatus) *GapReport {
	r := &GapReport{
		Universe: len(items),
		FailedBy: make(map[string][]int),
	}
	for _, item := range items {
		status, ok := done[item.Key()]
		switch {
		case !ok || !status.Skippable():
			r.Missing = append(r.Missing, item)
		case status == model.StatusNoFiling:
			r.NoFiling++
		case status == model.StatusFailed:
			r.Failed++
			r.FailedBy[item.Ticker] = append(r.FailedBy[item.Ticker], item.Year)
		default:
			r.Done++
		}
	}
	return r
}

// Format renders the report for terminal output.
func (r *GapReport) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "universe: %d items\n", r.Universe)
	fmt.Fprintf(&b, "  extracted: %d\n", r.Done)
	fmt.Fprintf(&b, "  no filing: %d\n", r.NoFiling)
	fmt.Fprintf(&b, "  failed:    %d\n", r.Failed)
	fmt.Fprintf(&b, "  missing:   %d\n", len(r.Missing))

	if len(r.FailedBy) > 0 {
		b.WriteString("\nfailed (reset to retry):\n")
		for _, ticker := range sortedKeys(r.FailedBy) {
			years := r.FailedBy[ticker]
			sort.Ints(years)
			fmt.Fprintf(&b, "  %-6s %v\n", ticker, years)
		}
	}

	if len(r.Missing) > 0 {
		b.WriteString("\nnot yet processed:\n")
		byTicker := make(map[string][]int)
		for _, item := range r.Missing {
			byTicker[item.Ticker] = append(byTicker[item.Ticker], item.Year)
		}
		for _, ticker := range sortedKeys(byTicker) {
			years := byTicker[ticker]
			sort.Ints(years)
			fmt.Fprintf(&b, "  %-6s %v\n", ticker, years)
		}
	}
	return b.String()
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
