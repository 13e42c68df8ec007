package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestOptionsFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		level   string
		want    Options
		wantErr bool
	}{
		{name: "unset", want: Options{Level: slog.LevelInfo}},
		{name: "json debug", format: " JSON ", level: "DEBUG", want: Options{JSON: true, Level: slog.LevelDebug}},
		{name: "offset level", level: "warn+2", want: Options{Level: slog.LevelWarn + 2}},
		{name: "bad format", format: "xml", wantErr: true},
		{name: "bad level", level: "trace", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(FormatEnv, tc.format)
			t.Setenv(LevelEnv, tc.level)
			got, err := OptionsFromEnv()
			if (err != nil) != tc.wantErr {
				t.Fatalf("OptionsFromEnv() error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("OptionsFromEnv() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNewVerbose(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{Level: slog.LevelError}).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record written at error level: %q", buf.String())
	}
	New(&buf, Options{Level: slog.LevelError, Verbose: true}).Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("verbose logger dropped debug record: %q", buf.String())
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{JSON: true}).Info("visible", "project", "p1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "visible" || rec["project"] != "p1" {
		t.Errorf("record = %v", rec)
	}
}
