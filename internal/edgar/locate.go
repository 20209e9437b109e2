// Package edgar resolves and downloads annual filings from SEC EDGAR.
//
// A filing for (ticker, fiscal year) is located by matching the report
// date (the fiscal year end, which identifies the fiscal period regardless
// of when the company filed) against the target year in the issuer's
// submissions index, walking paginated history files when the recent
// window does not cover the year.
package edgar

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finsight-labs/edgar-insights/internal/config"
	"github.com/finsight-labs/edgar-insights/internal/fetcher"
	"github.com/finsight-labs/edgar-insights/internal/model"
	"github.com/finsight-labs/edgar-insights/internal/resilience"
)

// Service talks to the EDGAR submissions index and document archive.
type Service struct {
	client      *fetcher.Client
	dataURL     string
	tickersURL  string
	archivesURL string
	filingDir   string
}

// NewService creates an EDGAR service from configuration.
func NewService(client *fetcher.Client, cfg config.EDGARConfig) *Service {
	archives := cfg.ArchivesURL
	if archives == "" {
		archives = "https://www.sec.gov"
	}
	return &Service{
		client:      client,
		dataURL:     strings.TrimRight(cfg.DataURL, "/"),
		tickersURL:  cfg.TickersURL,
		archivesURL: strings.TrimRight(archives, "/"),
		filingDir:   cfg.FilingDir,
	}
}

// filingIndex is the columnar filing list EDGAR uses both for the recent
// window and for paginated history files.
type filingIndex struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// submissionsJSON is the issuer-level submissions document.
type submissionsJSON struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent filingIndex `json:"recent"`
		Files  []struct {
			Name string `json:"name"`
		} `json:"files"`
	} `json:"filings"`
}

// Locate resolves the filing document for (ticker, year, form type).
// Returns resilience.ErrNotFound when the filing genuinely does not exist,
// a normal terminal state distinct from a transient fetch failure.
func (s *Service) Locate(ctx context.Context, cik, ticker string, year int, formType model.FilingType) (*model.FilingReference, error) {
	if cik == "" {
		return nil, eris.Wrapf(resilience.ErrNotFound, "edgar: no CIK for %s", ticker)
	}

	url := fmt.Sprintf("%s/submissions/CIK%s.json", s.dataURL, cik)
	var sub submissionsJSON
	if err := s.client.GetJSON(ctx, url, &sub); err != nil {
		if resilience.IsPermanent(err) {
			// A 404 on the issuer index means EDGAR has no such company.
			return nil, eris.Wrapf(resilience.ErrNotFound, "edgar: no submissions for CIK %s", cik)
		}
		return nil, eris.Wrapf(err, "edgar: fetch submissions for %s", ticker)
	}

	pages := 1
	if ref := s.matchFiling(&sub.Filings.Recent, cik, year, formType, pages); ref != nil {
		return ref, nil
	}

	// The recent window did not cover the target year: walk the paginated
	// history files until found or exhausted.
	for _, file := range sub.Filings.Files {
		if file.Name == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pageURL := fmt.Sprintf("%s/submissions/%s", s.dataURL, file.Name)
		var page filingIndex
		if err := s.client.GetJSON(ctx, pageURL, &page); err != nil {
			if resilience.IsPermanent(err) {
				zap.L().Debug("skipping unreadable index page",
					zap.String("ticker", ticker), zap.String("page", file.Name))
				continue
			}
			return nil, eris.Wrapf(err, "edgar: fetch index page %s", file.Name)
		}
		pages++

		if ref := s.matchFiling(&page, cik, year, formType, pages); ref != nil {
			return ref, nil
		}
	}

	zap.L().Debug("filing not found",
		zap.String("ticker", ticker),
		zap.Int("year", year),
		zap.String("form", string(formType)),
		zap.Int("pages_consulted", pages),
	)
	return nil, eris.Wrapf(resilience.ErrNotFound, "edgar: no %s for %s fiscal %d", formType, ticker, year)
}

// matchFiling scans one index page for the target fiscal year. When a year
// has multiple filings of the requested type (amendments), the one with
// the most recent filing date wins.
func (s *Service) matchFiling(idx *filingIndex, cik string, year int, formType model.FilingType, pages int) *model.FilingReference {
	wantForms := map[string]bool{
		string(formType):        true,
		string(formType) + "/A": true,
	}
	yearPrefix := strconv.Itoa(year)

	var best *model.FilingReference
	for i, form := range idx.Form {
		if !wantForms[form] {
			continue
		}
		if !strings.HasPrefix(safeIndex(idx.ReportDate, i), yearPrefix) {
			continue
		}
		accession := safeIndex(idx.AccessionNumber, i)
		doc := safeIndex(idx.PrimaryDocument, i)
		if accession == "" || doc == "" {
			continue
		}

		ref := &model.FilingReference{
			URL:             s.documentURL(cik, accession, doc),
			AccessionNumber: accession,
			FilingDate:      safeIndex(idx.FilingDate, i),
			FormType:        form,
			PagesConsulted:  pages,
		}
		if best == nil || ref.FilingDate > best.FilingDate {
			best = ref
		}
	}
	return best
}

func (s *Service) documentURL(cik, accession, doc string) string {
	cikInt, _ := strconv.Atoi(strings.TrimLeft(cik, "0"))
	accClean := strings.ReplaceAll(accession, "-", "")
	return fmt.Sprintf("%s/Archives/edgar/data/%d/%s/%s", s.archivesURL, cikInt, accClean, doc)
}

// safeIndex returns the string at index i, or empty string if out of
// bounds; EDGAR's columnar arrays occasionally run ragged.
func safeIndex(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}
