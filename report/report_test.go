package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/enumerator"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/logging"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/probe"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/scopes"
)

var scanID = uuid.MustParse("6f1c2a3e-7b8d-4e9f-a0b1-c2d3e4f5a6b7")

func newWriter(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter(filepath.Join(t.TempDir(), "results"), scanID, logging.Discard())
	w.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return w
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestWriteDelegation(t *testing.T) {
	catalog, err := scopes.Parse(strings.NewReader("s/drive | Drive\ns/mail | Mail\n"))
	if err != nil {
		t.Fatal(err)
	}
	results := probe.NewResults()
	results.Add("/keys/b.json", "s/mail")
	results.Add("/keys/a.json", "s/mail")
	results.Add("/keys/a.json", "s/drive")
	results.Add("/keys/a.json", "s/unknown")

	w := newWriter(t)
	txt, csvPath, err := w.WriteDelegation(results, catalog)
	if err != nil {
		t.Fatalf("WriteDelegation() error = %v", err)
	}
	if filepath.Base(txt) != "dwd_enum_1700000000.txt" || filepath.Base(csvPath) != "dwd_enum_1700000000.csv" {
		t.Errorf("report paths = %s, %s", txt, csvPath)
	}

	data, err := os.ReadFile(txt)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	want := strings.Join([]string{
		"Service Account Key Name: a.json",
		"Valid OAuth Scopes:",
		"-> s/mail",
		"   Mail",
		"-> s/drive",
		"   Drive",
		"-> s/unknown",
		"---",
		"Service Account Key Name: b.json",
		"Valid OAuth Scopes:",
		"-> s/mail",
		"   Mail",
		"---",
		"",
	}, "\n")
	if !strings.HasSuffix(body, want) {
		t.Errorf("report body =\n%s\nwant suffix\n%s", body, want)
	}
	if !strings.HasPrefix(body, "Scan ID: "+scanID.String()) {
		t.Errorf("report lacks scan id:\n%s", body)
	}

	wantRows := [][]string{
		{"SCAN_ID", "KEY_FILE", "SCOPE", "DESCRIPTION"},
		{scanID.String(), "a.json", "s/mail", "Mail"},
		{scanID.String(), "a.json", "s/drive", "Drive"},
		{scanID.String(), "a.json", "s/unknown", ""},
		{scanID.String(), "b.json", "s/mail", "Mail"},
	}
	if diff := cmp.Diff(wantRows, readCSV(t, csvPath)); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDelegationEmpty(t *testing.T) {
	txt, _, err := newWriter(t).WriteDelegation(probe.NewResults(), scopes.Default())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(txt)
	if !strings.Contains(string(data), "No valid DWD access found") {
		t.Errorf("empty report =\n%s", data)
	}
}

func TestWriteProjects(t *testing.T) {
	path, err := newWriter(t).WriteProjects([]enumerator.Project{
		{ID: "p1", Name: "One", Number: 101, Roles: []string{"roles/owner", "roles/viewer"}, CanCreateKeys: true},
		{ID: "p2", Name: "Two", Number: 102},
	})
	if err != nil {
		t.Fatalf("WriteProjects() error = %v", err)
	}
	want := [][]string{
		{"SCAN_ID", "PROJECT_ID", "NAME", "NUMBER", "ROLES", "KEY_CREATION"},
		{scanID.String(), "p1", "One", "101", "roles/owner;roles/viewer", "true"},
		{scanID.String(), "p2", "Two", "102", "", "false"},
	}
	if diff := cmp.Diff(want, readCSV(t, path)); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCSVReportsFailedWrite(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	err := newWriter(t).writeCSV("/dev/full", []string{"A"}, [][]string{{"1"}})
	if err == nil {
		t.Error("writeCSV() to a full device error = nil, want error")
	}
}
