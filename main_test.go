package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/config"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/enumerator"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/probe"
)

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing token", config.ErrMissingCredentials, 2},
		{"bad config", fmt.Errorf("%w: DWD_PROBE_QPS", config.ErrInvalidConfig), 2},
		{"no scopes", probe.ErrNoScopes, 2},
		{"no keys", fmt.Errorf("wrapped: %w", probe.ErrNoKeys), 2},
		{"identity", enumerator.ErrIdentityResolutionFailed, 2},
		{"bad key file", GoogleAPI.ErrInvalidKeyMaterial, 2},
		{"canceled", context.Canceled, 130},
		{"other", errors.New("listing projects: 403"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if got := exitCodeForError(tt.err, &stderr); got != tt.want {
				t.Errorf("exitCodeForError() = %d, want %d", got, tt.want)
			}
			if stderr.Len() == 0 {
				t.Errorf("nothing written to stderr")
			}
		})
	}
}

func TestRunMainSuccess(t *testing.T) {
	var stderr bytes.Buffer
	if got := runMain(func() error { return nil }, &stderr); got != 0 {
		t.Errorf("runMain() = %d, want 0", got)
	}
}

func TestCredentials(t *testing.T) {
	if _, err := credentials(config.Config{}, enumFlags{}); !errors.Is(err, config.ErrMissingCredentials) {
		t.Errorf("credentials() without token error = %v, want ErrMissingCredentials", err)
	}

	creds, err := credentials(config.Config{BearerToken: "tok"}, enumFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if creds.Kind() != GoogleAPI.BearerTokenCredential {
		t.Errorf("Kind() = %v, want bearer token", creds.Kind())
	}

	_, err = credentials(config.Config{BearerToken: "tok"}, enumFlags{keyFile: "/nonexistent/key.json"})
	if err == nil || !strings.Contains(err.Error(), "reading key file") {
		t.Errorf("credentials() with missing key file error = %v", err)
	}
}

func TestEnumFlags(t *testing.T) {
	cmd := enumCmd()
	for _, name := range []string{"verbose", "email", "output", "project", "list-projects", "key-file", "current-email"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s not registered", name)
		}
	}
}
