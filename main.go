package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/config"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/enumerator"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/probe"
)

var VERSION = "2026.10.19_DWD"

var rootCmd = &cobra.Command{
	Use:           "dwd-assessment-tool",
	Short:         "Assess Google Workspace domain-wide delegation exposure from a GCP identity",
	Version:       VERSION,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(enumCmd())
}

func main() {
	code := runMain(rootCmd.Execute, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	if err := execute(); err != nil {
		return exitCodeForError(err, stderr)
	}
	return 0
}

// exitCodeForError returns 2 for errors that stop a scan before it starts.
func exitCodeForError(err error, stderr io.Writer) int {
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "canceled")
		return 130
	case errors.Is(err, config.ErrMissingCredentials),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, probe.ErrNoScopes),
		errors.Is(err, probe.ErrNoKeys),
		errors.Is(err, enumerator.ErrIdentityResolutionFailed),
		errors.Is(err, GoogleAPI.ErrInvalidKeyMaterial):
		fmt.Fprintln(stderr, "[!]", err)
		return 2
	default:
		fmt.Fprintln(stderr, "[!]", err)
		return 1
	}
}
