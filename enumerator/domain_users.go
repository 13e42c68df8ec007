package enumerator

import (
	"context"
	"strings"
)

const serviceAccountSuffix = ".gserviceaccount.com"

// DomainUser is the representative user of one Workspace domain.
type DomainUser struct {
	Domain string
	Email  string
}

// RepresentativeUsers returns the first user: member seen in project IAM
// policies for each distinct email domain, in discovery order.
func (e *Enumerator) RepresentativeUsers(ctx context.Context, projectID string) ([]DomainUser, error) {
	projects, err := e.ListProjects(ctx, projectID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var users []DomainUser
	for _, p := range projects {
		policy, err := e.projects.GetIamPolicy(ctx, p.ProjectId)
		if err != nil {
			e.logger.Warn("reading project IAM policy failed", "project", p.ProjectId, "error", err)
			continue
		}
		for _, b := range policy.Bindings {
			for _, m := range b.Members {
				email, ok := strings.CutPrefix(m, "user:")
				if !ok || strings.HasSuffix(strings.ToLower(email), serviceAccountSuffix) {
					continue
				}
				_, domain, ok := strings.Cut(email, "@")
				if !ok || domain == "" {
					continue
				}
				domain = strings.ToLower(domain)
				if seen[domain] {
					continue
				}
				seen[domain] = true
				users = append(users, DomainUser{Domain: domain, Email: email})
			}
		}
	}

	if len(users) == 0 {
		e.logger.Warn("no domain IAM users found in accessible projects")
	}
	for _, u := range users {
		e.logger.Info("domain IAM user found", "domain", u.Domain, "user", u.Email)
	}
	return users, nil
}

// Emails returns the representative emails in order.
func Emails(users []DomainUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}
