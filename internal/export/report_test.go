package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oldmanpar/Pings/internal/monitor"
	"github.com/oldmanpar/Pings/internal/stats"
)

func sampleData() ([]monitor.Snapshot, []monitor.DisruptionEvent) {
	targets := []monitor.Snapshot{
		{
			Seq: 1, Address: "192.0.2.1", Host: "gw", Status: "up",
			SendCount: 100, FailCount: 3, CurrentRtt: 12.5,
			Stats: stats.Summary{Avg: 11.2, Min: 9.1, Max: 20.4, JitterMaxMin: 11.3, JitterPairAvg: 1.7, StdDev: 2.2},
		},
		{
			Seq: 2, Address: "192.0.2.2", Host: "core", Status: "down",
			SendCount: 50, FailCount: 10,
			DownFor: 90 * time.Second, MaxDownFor: 2 * time.Minute,
		},
	}
	events := []monitor.DisruptionEvent{
		{
			Address:   "192.0.2.1",
			Host:      "gw",
			DownStart: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			Recovery:  time.Date(2025, 6, 1, 10, 1, 30, 0, time.UTC),
			Duration:  90 * time.Second, FailureCount: 5,
			Pre:  stats.Summary{Avg: 10, Min: 8, Max: 15, JitterMaxMin: 7, JitterPairAvg: 1, StdDev: 2},
			Post: stats.Summary{Avg: 12, Min: 12, Max: 12},
		},
	}
	return targets, events
}

func TestWriteReportSections(t *testing.T) {
	targets, events := sampleData()

	var buf bytes.Buffer
	if err := WriteReport(&buf, targets, events); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, "# monitoring") || !strings.Contains(out, "# disruptions") {
		t.Fatalf("missing section markers:\n%s", out)
	}

	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	// marker, header, 2 targets, marker, header, 1 event
	if len(records) != 7 {
		t.Fatalf("record count = %d, want 7", len(records))
	}
	if len(records[1]) != len(monitoringHeader) {
		t.Fatalf("monitoring header width = %d, want %d", len(records[1]), len(monitoringHeader))
	}
	row := records[2]
	if row[0] != "1" || row[1] != "up" || row[2] != "192.0.2.1" || row[3] != "gw" {
		t.Fatalf("monitoring row = %v", row)
	}
	if len(row) != len(monitoringHeader) {
		t.Fatalf("monitoring row width = %d, want %d", len(row), len(monitoringHeader))
	}
	if down := records[3]; down[6] != "00:01:30" || down[7] != "00:02:00" {
		t.Fatalf("down durations = %v/%v, want 00:01:30/00:02:00", down[6], down[7])
	}

	evRow := records[6]
	if len(evRow) != len(disruptionHeader) {
		t.Fatalf("disruption row width = %d, want %d", len(evRow), len(disruptionHeader))
	}
	if evRow[2] != "2025-06-01 10:00:00" || evRow[3] != "2025-06-01 10:01:30" {
		t.Fatalf("event times = %v/%v", evRow[2], evRow[3])
	}
	if evRow[4] != "5" || evRow[5] != "00:01:30" {
		t.Fatalf("failures/duration = %v/%v", evRow[4], evRow[5])
	}
	if evRow[6] != "10.00" || evRow[12] != "12.00" {
		t.Fatalf("pre/post avg = %v/%v, want 10.00/12.00", evRow[6], evRow[12])
	}
}

func TestRecoveredLabelInReport(t *testing.T) {
	snap := monitor.Snapshot{Seq: 1, Address: "192.0.2.1", Status: "up", Recovered: true}
	row := monitoringRow(snap)
	if row[1] != "recovered" {
		t.Fatalf("status column = %q, want recovered", row[1])
	}
}

func TestSaveReportAndTranscripts(t *testing.T) {
	dir := t.TempDir()
	targets, events := sampleData()

	path := filepath.Join(dir, "out", "report.csv")
	if err := SaveReport(path, targets, events); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "192.0.2.1") {
		t.Fatal("saved report missing target row")
	}

	err = SaveTranscripts(dir, map[string]string{
		"192.0.2.1":  "1  192.0.2.254  1.0 ms\n",
		"2001:db8::1": "1  *\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "trace_192.0.2.1.txt")); err != nil {
		t.Fatal(err)
	}
	// Colons are not portable in file names.
	if _, err := os.Stat(filepath.Join(dir, "trace_2001_db8__1.txt")); err != nil {
		t.Fatal(err)
	}
}

func TestSaveReportSurfacesIOErrors(t *testing.T) {
	targets, events := sampleData()
	// Parent path is a file, so directory creation must fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SaveReport(filepath.Join(blocker, "r", "report.csv"), targets, events); err == nil {
		t.Fatal("expected error when report directory cannot be created")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{time.Second, "00:00:01"},
		{61 * time.Second, "00:01:01"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "03:04:05"},
		{1499 * time.Millisecond, "00:00:01"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.in); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
