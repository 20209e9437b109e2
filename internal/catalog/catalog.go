// Package catalog enumerates the ticker × fiscal-year work universe.
//
// Enumeration is a pure function of configuration: no I/O, no side effects,
// and a deterministic order (group order, then ticker order, then year
// descending) so partial runs are reproducible and auditable in logs.
package catalog

import (
	"slices"
	"strings"

	"github.com/finsight-labs/edgar-insights/internal/config"
	"github.com/finsight-labs/edgar-insights/internal/model"
)

// Catalog produces work items from the configured universe.
type Catalog struct {
	years    []int // descending
	groups   []config.TickerGroup
	foreign  map[string]bool
	ipoFloor map[string]int
}

// New builds a Catalog from the universe configuration.
func New(u config.UniverseConfig, foreign map[string]bool) *Catalog {
	years := slices.Clone(u.Years)
	slices.SortFunc(years, func(a, b int) int { return b - a })

	floor := make(map[string]int, len(u.IPOYearFloor))
	for t, y := range u.IPOYearFloor {
		floor[strings.ToUpper(t)] = y
	}

	return &Catalog{
		years:    years,
		groups:   u.Groups,
		foreign:  foreign,
		ipoFloor: floor,
	}
}

// Enumerate returns the full work list. A ticker appearing in more than one
// group keeps its first occurrence, so (ticker, year) keys never repeat
// within a run. Years below a ticker's IPO floor are excluded entirely:
// they are never attempted and never recorded as failed.
func (c *Catalog) Enumerate() []model.WorkItem {
	seen := make(map[string]bool)
	var items []model.WorkItem

	for _, g := range c.groups {
		for _, raw := range g.Tickers {
			ticker := strings.ToUpper(strings.TrimSpace(raw))
			if ticker == "" || seen[ticker] {
				continue
			}
			seen[ticker] = true

			filingType := model.Filing10K
			if c.foreign[ticker] {
				filingType = model.Filing20F
			}

			for _, year := range c.years {
				if floor, ok := c.ipoFloor[ticker]; ok && year < floor {
					continue
				}
				items = append(items, model.WorkItem{
					Ticker:     ticker,
					Tier:       g.Name,
					Year:       year,
					FilingType: filingType,
				})
			}
		}
	}

	return items
}
