package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/config"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/logging"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/scan"
)

type enumFlags struct {
	verbose      bool
	email        string
	output       bool
	projectID    string
	listProjects bool
	keyFile      string
	currentEmail string
}

func enumCmd() *cobra.Command {
	var flags enumFlags
	cmd := &cobra.Command{
		Use:   "enum",
		Short: "Enumerate service accounts with key creation rights and probe their keys for domain-wide delegation",
		Long: "Finds service accounts the calling identity can create keys for, provisions a key for each, " +
			"tests every key against every OAuth scope for one user per Workspace domain, and deletes the keys " +
			"that showed no delegation. Authenticates with " + config.TokenEnvVar + " unless --key-file is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnum(cmd.Context(), flags)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Log negative probe outcomes and skipped accounts")
	f.StringVar(&flags.email, "email", "", "Single Workspace user to impersonate instead of one discovered user per domain")
	f.BoolVar(&flags.output, "output", false, "Write the results report to the results directory")
	f.StringVar(&flags.projectID, "project", "", "Restrict enumeration to one project")
	f.BoolVar(&flags.listProjects, "list-projects", false, "List accessible projects with your roles and exit")
	f.StringVar(&flags.keyFile, "key-file", "", "Service account key to authenticate with (--list-projects) or to probe directly")
	f.StringVar(&flags.currentEmail, "current-email", "", "Email of the calling identity, skips token introspection")
	return cmd
}

func runEnum(ctx context.Context, flags enumFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logOpts, err := logging.OptionsFromEnv()
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logOpts.Verbose = flags.verbose
	logger := logging.New(os.Stderr, logOpts).With("command", "enum")

	ctx = scan.WithHTTPTimeout(ctx, cfg.HTTPTimeout)
	creds, err := credentials(cfg, flags)
	if err != nil {
		return err
	}

	scanner, err := scan.New(ctx, &cfg, creds, logger)
	if err != nil {
		return err
	}
	opts := scan.Options{
		Email:        flags.email,
		ProjectID:    flags.projectID,
		CurrentEmail: flags.currentEmail,
		Output:       flags.output,
	}

	switch {
	case flags.listProjects:
		_, err = scanner.ListProjects(ctx, creds, opts)
		return err
	case flags.keyFile != "":
		_, err = scanner.RunSingleKey(ctx, flags.keyFile, opts)
		return err
	default:
		_, err = scanner.Run(ctx, creds, opts)
		return err
	}
}

// credentials picks the key file when given, otherwise the bearer token.
func credentials(cfg config.Config, flags enumFlags) (GoogleAPI.Credentials, error) {
	if flags.keyFile != "" {
		return GoogleAPI.NewKeyCredentialsFromFile(flags.keyFile, "", GoogleAPI.CloudPlatformScope)
	}
	if cfg.BearerToken == "" {
		return nil, config.ErrMissingCredentials
	}
	return GoogleAPI.NewTokenCredentials(cfg.BearerToken), nil
}
