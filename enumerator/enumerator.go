// Package enumerator discovers projects and service accounts the caller can
// create keys for, and the Workspace users to probe delegation against.
package enumerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/iam/v1"
	oauth2api "google.golang.org/api/oauth2/v2"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
)

// KeyCreatePermission allows minting new keys for a service account.
const KeyCreatePermission = "iam.serviceAccountKeys.create"

// ErrIdentityResolutionFailed means the credential could not be attributed to a principal.
var ErrIdentityResolutionFailed = errors.New("could not resolve the email of the calling identity, pass --current-email")

type ProjectSource interface {
	GetProject(ctx context.Context, projectID string) (*cloudresourcemanager.Project, error)
	GetAllProjects(ctx context.Context) ([]*cloudresourcemanager.Project, error)
	GetIamPolicy(ctx context.Context, projectID string) (*cloudresourcemanager.Policy, error)
}

type IAMSource interface {
	GetProjectServiceAccounts(ctx context.Context, projectID string) ([]*iam.ServiceAccount, error)
	GetServiceAccount(ctx context.Context, name string) (*iam.ServiceAccount, error)
	GetServiceAccountIamPolicy(ctx context.Context, name string) (*iam.Policy, error)
	GetRole(ctx context.Context, name string) (*iam.Role, error)
}

type TokenIntrospector interface {
	TokenInfo(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error)
}

// KeyProvisioner returns a local key path for a service account.
type KeyProvisioner interface {
	EnsureKey(ctx context.Context, serviceAccountName string) (string, error)
}

// Project is an accessible project and the caller's roles on it.
type Project struct {
	ID            string
	Name          string
	Number        int64
	Roles         []string
	CanCreateKeys bool
}

type ServiceAccount struct {
	Name      string
	Email     string
	UniqueID  string
	ProjectID string
	Roles     []string
}

// Summary reports the outcome of an enumeration run.
type Summary struct {
	Projects    int
	Accounts    int
	Candidates  []ServiceAccount
	KeyPaths    []string
	KeyFailures int
}

type Enumerator struct {
	projects ProjectSource
	iam      IAMSource
	keys     KeyProvisioner
	logger   *slog.Logger

	roleCache map[string]bool
}

// New returns an Enumerator. keys may be nil to discover candidates without provisioning.
func New(projects ProjectSource, iamSource IAMSource, keys KeyProvisioner, logger *slog.Logger) *Enumerator {
	return &Enumerator{
		projects:  projects,
		iam:       iamSource,
		keys:      keys,
		logger:    logger,
		roleCache: make(map[string]bool),
	}
}

// ResolveCallerIdentity returns the email of the principal behind creds. An
// explicit email wins, then the credential's own email, then token introspection.
// Service account tokens carry no email and are matched by OAuth2 client id.
func (e *Enumerator) ResolveCallerIdentity(ctx context.Context, creds GoogleAPI.Credentials, introspector TokenIntrospector, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if email := creds.Email(); email != "" {
		return email, nil
	}

	token, err := creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityResolutionFailed, err)
	}
	info, err := introspector.TokenInfo(ctx, token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityResolutionFailed, err)
	}
	if info.Email != "" {
		return info.Email, nil
	}
	if info.IssuedTo == "" {
		return "", ErrIdentityResolutionFailed
	}

	e.logger.Debug("token has no email, matching client id against service accounts", "client_id", info.IssuedTo)
	email, err := e.serviceAccountByClientID(ctx, info.IssuedTo)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityResolutionFailed, err)
	}
	if email == "" {
		return "", ErrIdentityResolutionFailed
	}
	return email, nil
}

func (e *Enumerator) serviceAccountByClientID(ctx context.Context, clientID string) (string, error) {
	projects, err := e.ListProjects(ctx, "")
	if err != nil {
		return "", err
	}
	for _, p := range projects {
		accounts, err := e.iam.GetProjectServiceAccounts(ctx, p.ProjectId)
		if err != nil {
			e.logger.Warn("listing service accounts failed", "project", p.ProjectId, "error", err)
			continue
		}
		for _, sa := range accounts {
			id := sa.Oauth2ClientId
			if id == "" {
				details, err := e.iam.GetServiceAccount(ctx, sa.Name)
				if err != nil {
					e.logger.Debug("service account details unavailable", "service_account", sa.Name, "error", err)
					continue
				}
				id = details.Oauth2ClientId
			}
			if id == clientID {
				return sa.Email, nil
			}
		}
	}
	return "", nil
}

// ListProjects returns the project named by projectID, or every accessible
// project when projectID is empty or cannot be read.
func (e *Enumerator) ListProjects(ctx context.Context, projectID string) ([]*cloudresourcemanager.Project, error) {
	if projectID != "" {
		project, err := e.projects.GetProject(ctx, projectID)
		if err == nil {
			return []*cloudresourcemanager.Project{project}, nil
		}
		e.logger.Warn("project not accessible, falling back to all projects", "project", projectID, "error", err)
	}

	all, err := e.projects.GetAllProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	var projects []*cloudresourcemanager.Project
	for _, p := range all {
		if p.LifecycleState == "DELETE_REQUESTED" {
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// ProjectOverview lists projects with the principal's project roles and
// whether any of them allows key creation.
func (e *Enumerator) ProjectOverview(ctx context.Context, principal, projectID string) ([]Project, error) {
	projects, err := e.ListProjects(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(projects))
	for _, p := range projects {
		roles, err := e.ProjectRoles(ctx, principal, p.ProjectId)
		if err != nil {
			e.logger.Warn("reading project IAM policy failed", "project", p.ProjectId, "error", err)
		}
		out = append(out, Project{
			ID:            p.ProjectId,
			Name:          p.Name,
			Number:        p.ProjectNumber,
			Roles:         roles,
			CanCreateKeys: e.anyGrantsKeyCreation(ctx, roles),
		})
	}
	return out, nil
}

// ProjectRoles returns the roles bound to principal in the project IAM policy.
func (e *Enumerator) ProjectRoles(ctx context.Context, principal, projectID string) ([]string, error) {
	policy, err := e.projects.GetIamPolicy(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var roles []string
	for _, b := range policy.Bindings {
		if bindsMember(b.Members, principal) {
			roles = append(roles, b.Role)
		}
	}
	return roles, nil
}

// ServiceAccountRoles returns the roles bound to principal on the service account itself.
func (e *Enumerator) ServiceAccountRoles(ctx context.Context, principal, serviceAccountName string) ([]string, error) {
	policy, err := e.iam.GetServiceAccountIamPolicy(ctx, serviceAccountName)
	if err != nil {
		return nil, err
	}
	var roles []string
	for _, b := range policy.Bindings {
		if bindsMember(b.Members, principal) {
			roles = append(roles, b.Role)
		}
	}
	return roles, nil
}

// EffectiveRoles unions project-level bindings with the bindings on the
// service account resource when serviceAccountName is set.
func (e *Enumerator) EffectiveRoles(ctx context.Context, principal, projectID, serviceAccountName string) ([]string, error) {
	roles, err := e.ProjectRoles(ctx, principal, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s policy: %w", projectID, err)
	}
	if serviceAccountName == "" {
		return roles, nil
	}
	saRoles, err := e.ServiceAccountRoles(ctx, principal, serviceAccountName)
	if err != nil {
		return nil, fmt.Errorf("service account %s policy: %w", serviceAccountName, err)
	}
	return union(roles, saRoles), nil
}

// HasKeyCreationPermission reports whether role includes the key creation
// permission. Successful lookups are cached for the life of the Enumerator.
func (e *Enumerator) HasKeyCreationPermission(ctx context.Context, role string) bool {
	if granted, ok := e.roleCache[role]; ok {
		return granted
	}
	r, err := e.iam.GetRole(ctx, role)
	if err != nil {
		e.logger.Debug("error checking role", "role", role, "error", err)
		return false
	}
	granted := false
	for _, p := range r.IncludedPermissions {
		if p == KeyCreatePermission {
			granted = true
			break
		}
	}
	e.roleCache[role] = granted
	return granted
}

func (e *Enumerator) anyGrantsKeyCreation(ctx context.Context, roles []string) bool {
	for _, role := range roles {
		if e.HasKeyCreationPermission(ctx, role) {
			return true
		}
	}
	return false
}

// Enumerate walks every service account of every accessible project and
// provisions a key for each account the principal can create keys for.
func (e *Enumerator) Enumerate(ctx context.Context, principal, projectID string) (*Summary, error) {
	projects, err := e.ListProjects(ctx, projectID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("enumerating projects and service accounts", "principal", principal, "projects", len(projects))

	summary := &Summary{Projects: len(projects)}
	for _, p := range projects {
		accounts, err := e.iam.GetProjectServiceAccounts(ctx, p.ProjectId)
		if err != nil {
			e.logger.Warn("listing service accounts failed", "project", p.ProjectId, "error", err)
			continue
		}
		if len(accounts) == 0 {
			continue
		}

		projectRoles, err := e.ProjectRoles(ctx, principal, p.ProjectId)
		if err != nil {
			e.logger.Warn("reading project IAM policy failed", "project", p.ProjectId, "error", err)
		}

		for _, sa := range accounts {
			summary.Accounts++
			saRoles, err := e.ServiceAccountRoles(ctx, principal, sa.Name)
			if err != nil {
				e.logger.Warn("reading service account IAM policy failed", "service_account", sa.Email, "error", err)
			}
			roles := union(projectRoles, saRoles)

			if !e.anyGrantsKeyCreation(ctx, roles) {
				e.logger.Debug("no relevant roles found", "service_account", sa.Email, "unique_id", sa.UniqueId)
				continue
			}

			candidate := ServiceAccount{
				Name:      sa.Name,
				Email:     sa.Email,
				UniqueID:  sa.UniqueId,
				ProjectID: p.ProjectId,
				Roles:     roles,
			}
			summary.Candidates = append(summary.Candidates, candidate)
			e.logger.Info("service account with key creation permission", "service_account", sa.Email, "project", p.ProjectId, "roles", strings.Join(roles, ","))

			if e.keys == nil {
				continue
			}
			keyPath, err := e.keys.EnsureKey(ctx, sa.Name)
			if err != nil {
				summary.KeyFailures++
				e.logger.Warn("key provisioning failed", "service_account", sa.Email, "error", err)
				continue
			}
			summary.KeyPaths = append(summary.KeyPaths, keyPath)
		}
	}

	if len(summary.Candidates) == 0 {
		e.logger.Warn("no service accounts found with key creation permissions: none exist in accessible projects, the identity lacks permission, or the token has expired")
	}
	e.logger.Info("enumeration summary",
		"projects", summary.Projects,
		"accounts", summary.Accounts,
		"candidates", len(summary.Candidates),
		"keys_ready", len(summary.KeyPaths),
		"key_failures", summary.KeyFailures,
	)
	return summary, nil
}

// bindsMember matches principal against "type:id" members by id, and against
// bare members like allUsers as a whole.
func bindsMember(members []string, principal string) bool {
	for _, m := range members {
		id := m
		if _, after, ok := strings.Cut(m, ":"); ok {
			id = after
		}
		if id == principal {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
