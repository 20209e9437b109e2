package edgar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finsight-labs/edgar-insights/internal/model"
)

// minFilingBytes guards against caching error pages as filings.
const minFilingBytes = 1024

// CachedFiling returns the on-disk filing for (ticker, year) if a previous
// run already downloaded it. The ledger stays authoritative for "fully
// done"; this only skips the network hop.
func (s *Service) CachedFiling(ticker string, year int) (*model.RawFiling, bool) {
	path := s.filingPath(ticker, year)
	info, err := os.Stat(path)
	if err != nil || info.Size() < minFilingBytes {
		return nil, false
	}
	return &model.RawFiling{
		Ticker:      ticker,
		Year:        year,
		Path:        path,
		Bytes:       info.Size(),
		RetrievedAt: info.ModTime().UTC(),
	}, true
}

// Download fetches the filing document and writes it to the filing store
// before handing it downstream, so a crash between download and extraction
// never forces a re-fetch.
func (s *Service) Download(ctx context.Context, ref *model.FilingReference, ticker string, year int) (*model.RawFiling, error) {
	body, err := s.client.Get(ctx, ref.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "edgar: download %s/%d", ticker, year)
	}

	path := s.filingPath(ticker, year)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "edgar: create filing dir for %s/%d", ticker, year)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, eris.Wrapf(err, "edgar: write filing %s/%d", ticker, year)
	}

	sum := sha256.Sum256(body)
	raw := &model.RawFiling{
		Ticker:      ticker,
		Year:        year,
		Path:        path,
		Bytes:       int64(len(body)),
		SHA256:      hex.EncodeToString(sum[:]),
		SourceURL:   ref.URL,
		RetrievedAt: time.Now().UTC(),
	}

	zap.L().Info("filing downloaded",
		zap.String("ticker", ticker),
		zap.Int("year", year),
		zap.Int64("bytes", raw.Bytes),
		zap.String("accession", ref.AccessionNumber),
	)
	return raw, nil
}

func (s *Service) filingPath(ticker string, year int) string {
	return filepath.Join(s.filingDir, ticker, strconv.Itoa(year), "filing.htm")
}
