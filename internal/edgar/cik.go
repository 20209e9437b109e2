package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CIKMap resolves uppercase tickers to zero-padded ten-digit CIK strings.
type CIKMap map[string]string

// cikOverrides patches issuers that renamed or were acquired and no longer
// appear under their historical ticker in the SEC mapping file.
var cikOverrides = map[string]string{
	"SQ":   "0001512673", // Block Inc
	"CYBR": "0001594805", // CyberArk
	"LTHM": "0001740967", // Livent Corp (now Arcadium)
	"PARA": "0000813828", // Paramount Global (was VIAC)
}

// tickerEntry is one record of company_tickers.json, which is keyed by
// arbitrary string indices ("0", "1", ...).
type tickerEntry struct {
	CIK    json.Number `json:"cik_str"`
	Ticker string      `json:"ticker"`
	Title  string      `json:"title"`
}

// LoadCIKMap downloads the SEC ticker→CIK mapping once per run.
func (s *Service) LoadCIKMap(ctx context.Context) (CIKMap, error) {
	var raw map[string]tickerEntry
	if err := s.client.GetJSON(ctx, s.tickersURL, &raw); err != nil {
		return nil, eris.Wrap(err, "edgar: load CIK map")
	}

	m := make(CIKMap, len(raw)+len(cikOverrides))
	for _, e := range raw {
		ticker := strings.ToUpper(e.Ticker)
		if ticker == "" {
			continue
		}
		m[ticker] = padCIK(e.CIK.String())
	}
	for ticker, cik := range cikOverrides {
		m[ticker] = cik
	}

	zap.L().Info("CIK map loaded", zap.Int("tickers", len(m)))
	return m, nil
}

// Lookup returns the CIK for a ticker, or "" if the issuer is unknown.
func (m CIKMap) Lookup(ticker string) string {
	return m[strings.ToUpper(ticker)]
}

func padCIK(cik string) string {
	cik = strings.TrimLeft(cik, "0")
	return fmt.Sprintf("%010s", cik)
}
