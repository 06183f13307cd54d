package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVExporter writes each run's discoveries to a timestamped artifact file.
type CSVExporter struct {
	dir string
	now func() time.Time
}

func NewCSVExporter(dir string, now func() time.Time) *CSVExporter {
	if now == nil {
		now = time.Now
	}
	return &CSVExporter{dir: dir, now: now}
}

func (e *CSVExporter) Name() string { return "csv" }

// Export writes one CSV artifact for the batch. An empty batch writes
// nothing.
func (e *CSVExporter) Export(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	path := filepath.Join(e.dir,
		fmt.Sprintf("discoveries_%s.csv", e.now().Format("20060102_150405")))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Handle", "Name", "TwitterLink", "Score", "Breakdown",
		"Followers", "AgeWeeks", "Bio", "PowerUsers", "Keywords", "DiscoveredAt",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.AtHandle(),
			row.Name,
			row.TwitterLink(),
			strconv.Itoa(row.Score),
			row.ScoreBreakdown,
			strconv.Itoa(row.FollowersCount),
			strconv.Itoa(row.AgeWeeks),
			row.TrimmedBio(),
			strings.Join(row.PowerUsers, ", "),
			strings.Join(row.Keywords, ", "),
			row.DiscoveredAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	log.Info().Str("path", path).Int("rows", len(rows)).Msg("Wrote discovery CSV artifact")
	return nil
}
