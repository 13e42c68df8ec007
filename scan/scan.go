// Package scan runs the enum flow: enumerate, provision keys, probe, clean up and report.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/config"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/enumerator"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/keys"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/probe"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/report"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/scopes"
)

// Options are the per-run choices of the enum command.
type Options struct {
	// Email is a single target user. Empty means discover one user per domain.
	Email        string
	ProjectID    string
	CurrentEmail string
	Output       bool
}

type Scanner struct {
	ID           uuid.UUID
	Enumerator   *enumerator.Enumerator
	Introspector enumerator.TokenIntrospector
	Keys         *keys.Manager
	Prober       *probe.Prober
	Catalog      *scopes.Catalog
	Report       *report.Writer
	Logger       *slog.Logger
}

// Result is everything a run produced.
type Result struct {
	Principal   string
	Enumeration *enumerator.Summary
	Targets     []string
	Probe       probe.Summary
	Cleanup     keys.ReconcileSummary
	Delegation  *probe.Results
	ReportPath  string
}

// WithHTTPTimeout makes every client built from ctx, including token
// exchanges, time out after d.
func WithHTTPTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: d})
}

// New wires a Scanner against the Google APIs, authenticated as creds.
func New(ctx context.Context, cfg *config.Config, creds GoogleAPI.Credentials, logger *slog.Logger) (*Scanner, error) {
	retry := GoogleAPI.NewRetryPolicy(cfg.MaxRetries, cfg.BackoffFactor, logger)
	client := option.WithHTTPClient(creds.HTTPClient(ctx))

	crmAPI, err := GoogleAPI.NewCloudResourceManagerAPI(ctx, retry, client)
	if err != nil {
		return nil, err
	}
	iamAPI, err := GoogleAPI.NewIamAPI(ctx, retry, client)
	if err != nil {
		return nil, err
	}
	tokenInfoAPI, err := GoogleAPI.NewTokenInfoAPI(ctx, retry)
	if err != nil {
		return nil, err
	}

	scanID := uuid.New()
	logger = logger.With("scan_id", scanID.String())

	manager := keys.NewManager(keys.NewStore(cfg.KeysDir), iamAPI, GoogleAPI.KeyValidator{}, logger)
	prober := probe.New(GoogleAPI.DelegatedTokenMinter{}, tokenInfoAPI, retry, logger)
	prober.Progress = probe.NewProgressBar(os.Stderr)
	if cfg.ProbeQPS > 0 {
		prober.Limiter = rate.NewLimiter(rate.Limit(cfg.ProbeQPS), 1)
	}

	return &Scanner{
		ID:           scanID,
		Enumerator:   enumerator.New(crmAPI, iamAPI, manager, logger),
		Introspector: tokenInfoAPI,
		Keys:         manager,
		Prober:       prober,
		Catalog:      scopes.Load(cfg.ScopesFile, logger),
		Report:       report.NewWriter(cfg.ResultsDir, scanID, logger),
		Logger:       logger,
	}, nil
}

// Run enumerates key-creation candidates, provisions their keys, probes every
// local key for delegation and deletes the keys that showed none.
func (s *Scanner) Run(ctx context.Context, creds GoogleAPI.Credentials, opts Options) (*Result, error) {
	if s.Catalog.Len() == 0 {
		return nil, probe.ErrNoScopes
	}

	principal, err := s.Enumerator.ResolveCallerIdentity(ctx, creds, s.Introspector, opts.CurrentEmail)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("authenticated", "principal", principal, "credential", creds.Kind().String())

	summary, err := s.Enumerator.Enumerate(ctx, principal, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	result := &Result{Principal: principal, Enumeration: summary}

	result.Targets = s.targets(ctx, opts)

	keyPaths, err := s.Keys.Store().Paths()
	if err != nil {
		return nil, err
	}
	delegation, probeSummary, err := s.Prober.Run(ctx, s.Catalog, keyPaths, result.Targets)
	if err != nil {
		return nil, err
	}
	result.Delegation = delegation
	result.Probe = probeSummary

	result.Cleanup, err = s.Keys.Reconcile(ctx, delegation.Keys())
	if err != nil {
		s.Logger.Error("key cleanup failed", "error", err)
	}

	if opts.Output {
		if result.ReportPath, _, err = s.Report.WriteDelegation(delegation, s.Catalog); err != nil {
			return result, err
		}
	}
	return result, nil
}

// RunSingleKey probes one existing key without provisioning or cleanup.
func (s *Scanner) RunSingleKey(ctx context.Context, keyPath string, opts Options) (*Result, error) {
	if _, err := s.Keys.Store().Load(keyPath); err != nil {
		return nil, fmt.Errorf("%w: %v", probe.ErrNoKeys, err)
	}

	result := &Result{Targets: s.targets(ctx, opts)}
	delegation, probeSummary, err := s.Prober.Run(ctx, s.Catalog, []string{keyPath}, result.Targets)
	if err != nil {
		return nil, err
	}
	result.Delegation = delegation
	result.Probe = probeSummary

	if opts.Output {
		if result.ReportPath, _, err = s.Report.WriteDelegation(delegation, s.Catalog); err != nil {
			return result, err
		}
	}
	return result, nil
}

// ListProjects reports the accessible projects and the caller's roles on them.
func (s *Scanner) ListProjects(ctx context.Context, creds GoogleAPI.Credentials, opts Options) ([]enumerator.Project, error) {
	principal, err := s.Enumerator.ResolveCallerIdentity(ctx, creds, s.Introspector, opts.CurrentEmail)
	if err != nil {
		return nil, err
	}
	projects, err := s.Enumerator.ProjectOverview(ctx, principal, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		s.Logger.Info("project", "id", p.ID, "name", p.Name, "number", p.Number, "roles", p.Roles, "key_creation", p.CanCreateKeys)
	}
	if opts.Output {
		if _, err := s.Report.WriteProjects(projects); err != nil {
			return projects, err
		}
	}
	return projects, nil
}

func (s *Scanner) targets(ctx context.Context, opts Options) []string {
	if opts.Email != "" {
		return []string{opts.Email}
	}
	users, err := s.Enumerator.RepresentativeUsers(ctx, opts.ProjectID)
	if err != nil {
		s.Logger.Warn("domain user discovery failed", "error", err)
		return nil
	}
	return enumerator.Emails(users)
}
