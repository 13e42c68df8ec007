// Package report writes scan results to the results directory.
package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/enumerator"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/probe"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/scopes"
)

type Writer struct {
	Dir    string
	ScanID uuid.UUID
	Now    func() time.Time
	Logger *slog.Logger
}

func NewWriter(dir string, scanID uuid.UUID, logger *slog.Logger) *Writer {
	return &Writer{Dir: dir, ScanID: scanID, Now: time.Now, Logger: logger}
}

// WriteDelegation writes dwd_enum_<ts>.txt, grouped per key in key order with
// scopes in discovery order, and a CSV with one row per key and scope.
func (w *Writer) WriteDelegation(results *probe.Results, catalog *scopes.Catalog) (string, string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating results directory: %w", err)
	}
	now := w.Now()
	base := filepath.Join(w.Dir, "dwd_enum_"+strconv.FormatInt(now.Unix(), 10))

	var b strings.Builder
	fmt.Fprintf(&b, "Scan ID: %s\n", w.ScanID)
	fmt.Fprintf(&b, "Generated: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintln(&b, strings.Repeat("-", 50))
	if results.Len() == 0 {
		fmt.Fprintln(&b, "No valid DWD access found")
	}

	var rows [][]string
	for _, key := range results.Keys() {
		fmt.Fprintf(&b, "Service Account Key Name: %s\n", filepath.Base(key))
		fmt.Fprintln(&b, "Valid OAuth Scopes:")
		for _, scope := range results.Scopes(key) {
			description := catalog.Description(scope)
			fmt.Fprintf(&b, "-> %s\n", scope)
			if description != "" {
				fmt.Fprintf(&b, "   %s\n", description)
			}
			rows = append(rows, []string{w.ScanID.String(), filepath.Base(key), scope, description})
		}
		fmt.Fprintln(&b, "---")
	}

	txtPath := base + ".txt"
	if err := os.WriteFile(txtPath, []byte(b.String()), 0o644); err != nil {
		return "", "", fmt.Errorf("writing report: %w", err)
	}
	csvPath := base + ".csv"
	if err := w.writeCSV(csvPath, []string{"SCAN_ID", "KEY_FILE", "SCOPE", "DESCRIPTION"}, rows); err != nil {
		return "", "", err
	}
	w.Logger.Info("saved results", "report", txtPath, "csv", csvPath)
	return txtPath, csvPath, nil
}

// WriteProjects writes projects_<ts>.csv.
func (w *Writer) WriteProjects(projects []enumerator.Project) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results directory: %w", err)
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{
			w.ScanID.String(),
			p.ID,
			p.Name,
			strconv.FormatInt(p.Number, 10),
			strings.Join(p.Roles, ";"),
			strconv.FormatBool(p.CanCreateKeys),
		})
	}
	path := filepath.Join(w.Dir, "projects_"+strconv.FormatInt(w.Now().Unix(), 10)+".csv")
	headers := []string{"SCAN_ID", "PROJECT_ID", "NAME", "NUMBER", "ROLES", "KEY_CREATION"}
	if err := w.writeCSV(path, headers, rows); err != nil {
		return "", err
	}
	w.Logger.Info("saved projects", "csv", path)
	return path, nil
}

func (w *Writer) writeCSV(path string, headers []string, rows [][]string) (err error) {
	timer := time.Now()
	w.Logger.Debug("writing csv", "rows", len(rows)+1, "file", path)

	csvFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := csvFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	csvWriter := csv.NewWriter(csvFile)
	if err := csvWriter.Write(headers); err != nil {
		return err
	}
	if err := csvWriter.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.Logger.Debug("finished writing csv", "file", path, "elapsed", time.Since(timer))
	return nil
}
