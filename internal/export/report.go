// Package export renders monitoring results into flat delimited report
// files and per-address trace transcripts. It consumes snapshots only; the
// live monitoring state never crosses this boundary.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmanpar/Pings/internal/monitor"
	"github.com/oldmanpar/Pings/internal/stats"
)

const timeLayout = "2006-01-02 15:04:05"

var monitoringHeader = []string{
	"seq", "status", "address", "host", "sent", "failed",
	"down_for", "max_down_for",
	"rtt_ms", "avg_ms", "min_ms", "max_ms",
	"jitter_maxmin_ms", "jitter_pair_ms", "stddev_ms",
}

var disruptionHeader = []string{
	"address", "host", "down_start", "recovery", "failures", "duration",
	"pre_avg_ms", "pre_min_ms", "pre_max_ms", "pre_jitter_maxmin_ms", "pre_jitter_pair_ms", "pre_stddev_ms",
	"post_avg_ms", "post_min_ms", "post_max_ms", "post_jitter_maxmin_ms", "post_jitter_pair_ms", "post_stddev_ms",
}

// WriteReport writes the monitoring section followed by the disruption
// section as one delimited document.
func WriteReport(w io.Writer, targets []monitor.Snapshot, events []monitor.DisruptionEvent) error {
	cw := csv.NewWriter(w)

	records := [][]string{{"# monitoring"}, monitoringHeader}
	for _, t := range targets {
		records = append(records, monitoringRow(t))
	}
	records = append(records, []string{"# disruptions"}, disruptionHeader)
	for _, ev := range events {
		records = append(records, disruptionRow(ev))
	}

	for _, rec := range records {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: write report: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: write report: %w", err)
	}
	return nil
}

// SaveReport writes the report to a file, creating parent directories.
func SaveReport(path string, targets []monitor.Snapshot, events []monitor.DisruptionEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: ensure report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create report: %w", err)
	}
	defer f.Close()

	if err := WriteReport(f, targets, events); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: close report: %w", err)
	}
	log.Info().Str("path", path).Int("targets", len(targets)).Int("events", len(events)).
		Msg("report saved")
	return nil
}

// SaveTranscripts writes one trace transcript file per address into dir.
func SaveTranscripts(dir string, transcripts map[string]string) error {
	if len(transcripts) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: ensure transcript directory: %w", err)
	}
	for addr, text := range transcripts {
		path := filepath.Join(dir, TranscriptFileName(addr))
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return fmt.Errorf("export: write transcript for %s: %w", addr, err)
		}
	}
	log.Info().Str("dir", dir).Int("files", len(transcripts)).Msg("trace transcripts saved")
	return nil
}

// TranscriptFileName maps an address to a filesystem-safe transcript name.
func TranscriptFileName(address string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(address)
	return "trace_" + safe + ".txt"
}

func monitoringRow(t monitor.Snapshot) []string {
	status := t.Status
	if t.Recovered {
		status = "recovered"
	}
	row := []string{
		strconv.Itoa(t.Seq),
		status,
		t.Address,
		t.Host,
		strconv.Itoa(t.SendCount),
		strconv.Itoa(t.FailCount),
		formatDuration(t.DownFor),
		formatDuration(t.MaxDownFor),
		formatMs(t.CurrentRtt),
	}
	return append(row, summaryColumns(t.Stats)...)
}

func disruptionRow(ev monitor.DisruptionEvent) []string {
	row := []string{
		ev.Address,
		ev.Host,
		ev.DownStart.Format(timeLayout),
		ev.Recovery.Format(timeLayout),
		strconv.Itoa(ev.FailureCount),
		formatDuration(ev.Duration),
	}
	row = append(row, summaryColumns(ev.Pre)...)
	return append(row, summaryColumns(ev.Post)...)
}

func summaryColumns(s stats.Summary) []string {
	return []string{
		formatMs(s.Avg),
		formatMs(s.Min),
		formatMs(s.Max),
		formatMs(s.JitterMaxMin),
		formatMs(s.JitterPairAvg),
		formatMs(s.StdDev),
	}
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
