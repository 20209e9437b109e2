package model

import (
	"fmt"
	"time"
)

// FilingType is the annual filing form submitted by an issuer.
type FilingType string

const (
	Filing10K FilingType = "10-K" // domestic issuers
	Filing20F FilingType = "20-F" // foreign private issuers
)

// WorkItem is one (ticker, fiscal year) unit of pipeline work. Items are
// regenerated from configuration on every run; only their outcomes persist.
type WorkItem struct {
	Ticker     string     `json:"ticker"`
	Tier       string     `json:"tier"`
	Year       int        `json:"year"`
	FilingType FilingType `json:"filing_type"`
}

// Key returns the canonical "TICKER/YEAR" identity used in logs and errors.
func (w WorkItem) Key() string {
	return fmt.Sprintf("%s/%d", w.Ticker, w.Year)
}

// LedgerStatus is the durable completion state of a work item.
type LedgerStatus string

const (
	StatusPending    LedgerStatus = "pending"
	StatusDownloaded LedgerStatus = "downloaded"
	StatusNoFiling   LedgerStatus = "no_filing"
	StatusExtracted  LedgerStatus = "extracted"
	StatusFailed     LedgerStatus = "failed"
)

// Complete reports whether the status means the item needs no further work
// on a rerun. Failed items are also skipped until an operator resets them,
// but they are not "complete" in the success sense.
func (s LedgerStatus) Complete() bool {
	return s == StatusExtracted || s == StatusNoFiling
}

// Skippable reports whether a rerun should skip the item entirely.
func (s LedgerStatus) Skippable() bool {
	return s.Complete() || s == StatusFailed
}

// LedgerEntry is one row of the completion ledger, keyed by (ticker, year).
type LedgerEntry struct {
	Ticker    string       `json:"ticker"`
	Year      int          `json:"year"`
	Status    LedgerStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	Attempts  int          `json:"attempts"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// FilingReference is a resolved filing document, alive only while one work
// item moves from locate to download.
type FilingReference struct {
	URL             string `json:"url"`
	AccessionNumber string `json:"accession_number"`
	FilingDate      string `json:"filing_date"`
	FormType        string `json:"form_type"`
	PagesConsulted  int    `json:"pages_consulted"`
}

// RawFiling is a downloaded filing document plus retrieval provenance. The
// bytes live on disk so a crash between download and extraction does not
// force a re-fetch.
type RawFiling struct {
	Ticker      string    `json:"ticker"`
	Year        int       `json:"year"`
	Path        string    `json:"path"`
	Bytes       int64     `json:"bytes"`
	SHA256      string    `json:"sha256"`
	SourceURL   string    `json:"source_url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}
