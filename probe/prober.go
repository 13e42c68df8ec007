// Package probe tests every key, user and scope combination for domain-wide delegation.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
	"github.com/MetaPhase-Consulting/dwd-assessment-tool/scopes"
)

var (
	ErrNoScopes = errors.New("no scopes loaded from the scopes file, check DWD_SCOPES_FILE")
	ErrNoKeys   = errors.New("no service account keys found: the identity may lack permission to create keys on target service accounts, try a different GCP identity")
)

// Minter mints a delegated token for subject with exactly one scope.
type Minter interface {
	Mint(ctx context.Context, keyJSON []byte, subject, scope string) (*oauth2.Token, error)
}

type Introspector interface {
	TokenInfo(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error)
}

type Verdict int

const (
	Confirmed Verdict = iota
	NotDelegated
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Confirmed:
		return "confirmed"
	case NotDelegated:
		return "not delegated"
	default:
		return "failed"
	}
}

// Outcome is the result of one key, user and scope combination.
type Outcome struct {
	KeyPath string
	User    string
	Scope   string
	Verdict Verdict
	Err     error
	// KeyInvalid marks key material that can never mint.
	KeyInvalid bool
}

// Summary counts probe outcomes.
type Summary struct {
	Combinations int
	Attempted    int
	Confirmed    int
	NotDelegated int
	Failed       int
}

// Total is the number of combinations a probe will attempt.
func Total(keys, scopeCount, users int) int {
	return keys * scopeCount * users
}

type Prober struct {
	Minter       Minter
	Introspector Introspector
	Retry        *GoogleAPI.RetryPolicy
	// Limiter paces mint attempts when set.
	Limiter  *rate.Limiter
	Progress *ProgressBar
	Logger   *slog.Logger
}

func New(minter Minter, introspector Introspector, retry *GoogleAPI.RetryPolicy, logger *slog.Logger) *Prober {
	return &Prober{Minter: minter, Introspector: introspector, Retry: retry, Logger: logger}
}

// Run probes keyPaths × users × catalog scopes sequentially. It returns the
// confirmed scopes per key; negative outcomes never fail the run.
func (p *Prober) Run(ctx context.Context, catalog *scopes.Catalog, keyPaths, users []string) (*Results, Summary, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, Summary{}, ErrNoScopes
	}
	if len(keyPaths) == 0 {
		return nil, Summary{}, ErrNoKeys
	}

	scopeList := catalog.Scopes()
	total := Total(len(keyPaths), len(scopeList), len(users))
	summary := Summary{Combinations: total}
	results := NewResults()

	p.Logger.Info("validating OAuth tokens and DWD access",
		"combinations", total,
		"service_accounts", len(keyPaths),
		"scopes", len(scopeList),
		"users", len(users),
	)
	if total == 0 {
		p.Logger.Warn("no target users to probe")
		return results, summary, nil
	}

	done := 0
	for _, keyPath := range keyPaths {
		perKey := len(users) * len(scopeList)
		keyJSON, err := os.ReadFile(keyPath)
		if err != nil {
			p.Logger.Debug("the service account file is not valid or doesn't exist", "path", keyPath, "error", err)
			summary.Failed += perKey
			done += perKey
			p.Progress.Update(done, total, "Progress")
			continue
		}

		keyDone := 0
	combinations:
		for _, user := range users {
			for _, scope := range scopeList {
				out := p.probeOne(ctx, keyJSON, keyPath, user, scope)
				summary.Attempted++
				keyDone++
				done++

				switch out.Verdict {
				case Confirmed:
					summary.Confirmed++
					if results.Add(keyPath, scope) {
						p.Logger.Info("found valid DWD access", "key", keyPath, "scope", scope, "user", user)
					}
				case NotDelegated:
					summary.NotDelegated++
					p.Logger.Debug("invalid or expired token", "key", keyPath, "scope", scope, "user", user)
				default:
					summary.Failed++
					p.Logger.Debug("error validating token", "key", keyPath, "scope", scope, "user", user, "error", out.Err)
				}
				p.Progress.Update(done, total, "Progress")

				if out.KeyInvalid {
					skipped := perKey - keyDone
					p.Logger.Debug("the service account file is not valid, skipping its remaining combinations", "path", keyPath, "skipped", skipped)
					summary.Failed += skipped
					done += skipped
					p.Progress.Update(done, total, "Progress")
					break combinations
				}
			}
		}
	}

	if results.Len() == 0 {
		p.Logger.Info("no valid DWD access found")
	}
	p.Logger.Info("probe summary",
		"combinations", summary.Combinations,
		"attempted", summary.Attempted,
		"confirmed", summary.Confirmed,
		"not_delegated", summary.NotDelegated,
		"failed", summary.Failed,
	)
	return results, summary, nil
}

func (p *Prober) probeOne(ctx context.Context, keyJSON []byte, keyPath, user, scope string) Outcome {
	out := Outcome{KeyPath: keyPath, User: user, Scope: scope, Verdict: Failed}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			out.Err = err
			return out
		}
	}

	token, err := GoogleAPI.CallWithRetry(ctx, p.Retry, "token mint", func() (*oauth2.Token, error) {
		return p.Minter.Mint(ctx, keyJSON, user, scope)
	})
	if err != nil {
		out.Err = err
		var retrieveErr *oauth2.RetrieveError
		switch {
		case errors.Is(err, GoogleAPI.ErrInvalidKeyMaterial):
			out.KeyInvalid = true
		case errors.Is(err, GoogleAPI.ErrRateLimitExceeded):
		case errors.As(err, &retrieveErr) && isRejection(retrieveErr.Response):
			out.Verdict = NotDelegated
		}
		return out
	}

	if _, err := p.Introspector.TokenInfo(ctx, token.AccessToken); err != nil {
		out.Err = fmt.Errorf("token introspection: %w", err)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && isRejectionCode(apiErr.Code) {
			out.Verdict = NotDelegated
		}
		return out
	}

	out.Verdict = Confirmed
	return out
}

// isRejection reports whether the token endpoint refused the grant. Server
// errors and throttling are failures, not a negative answer.
func isRejection(resp *http.Response) bool {
	return resp != nil && isRejectionCode(resp.StatusCode)
}

func isRejectionCode(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
