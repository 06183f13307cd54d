package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sorsalabs/cryptoscout/internal/net/httpclient"
)

const sheetsBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// SheetsExporter appends discovery rows to a Google spreadsheet through the
// values:append endpoint. Authentication is a bearer token supplied by the
// environment; token refresh is outside this exporter's job.
type SheetsExporter struct {
	spreadsheetID string
	appendRange   string
	token         string
	baseURL       string

	pool *httpclient.ClientPool
	now  func() time.Time
}

func NewSheetsExporter(spreadsheetID, appendRange, token string) *SheetsExporter {
	if appendRange == "" {
		appendRange = "A1"
	}
	return &SheetsExporter{
		spreadsheetID: spreadsheetID,
		appendRange:   appendRange,
		token:         token,
		baseURL:       sheetsBaseURL,
		pool: httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency: 1,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			BackoffBase:    time.Second,
			BackoffMax:     15 * time.Second,
			UserAgent:      "CryptoScout/1.0",
		}),
		now: time.Now,
	}
}

func (e *SheetsExporter) Name() string { return "sheets" }

type appendRequest struct {
	Values [][]string `json:"values"`
}

// Export appends the batch as rows. The append endpoint is additive, so the
// header travels with every batch and sheet consumers dedupe on it.
func (e *SheetsExporter) Export(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	values := [][]string{{
		"Name", "Handle", "TwitterLink", "Score", "Followers",
		"Bio", "PowerUsers", "Keywords", "DiscoveredAt",
	}}
	for _, row := range rows {
		values = append(values, []string{
			row.Name,
			row.AtHandle(),
			row.TwitterLink(),
			fmt.Sprintf("%d", row.Score),
			fmt.Sprintf("%d", row.FollowersCount),
			row.TrimmedBio(),
			strings.Join(row.PowerUsers, ", "),
			strings.Join(row.Keywords, ", "),
			row.DiscoveredAt.Format("2006-01-02"),
		})
	}

	payload, err := json.Marshal(appendRequest{Values: values})
	if err != nil {
		return fmt.Errorf("failed to marshal sheet rows: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		e.baseURL, url.PathEscape(e.spreadsheetID), url.PathEscape(e.appendRange))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sheets request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("sheets append failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sheets append returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	log.Info().Int("rows", len(rows)).Str("spreadsheet", e.spreadsheetID).Msg("Appended discoveries to sheet")
	return nil
}

// MultiExporter fans a batch out to every configured sink, aggregating
// failures so one broken sink never blocks the others.
type MultiExporter struct {
	exporters []Exporter
}

func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

func (m *MultiExporter) Name() string { return "multi" }

func (m *MultiExporter) Export(ctx context.Context, rows []Row) error {
	var errs []string
	for _, exp := range m.exporters {
		if err := exp.Export(ctx, rows); err != nil {
			log.Error().Err(err).Str("exporter", exp.Name()).Msg("Export failed")
			errs = append(errs, fmt.Sprintf("%s: %v", exp.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("export failures: %s", strings.Join(errs, "; "))
	}
	return nil
}
