package enumerator

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/iam/v1"
	oauth2api "google.golang.org/api/oauth2/v2"

	"github.com/MetaPhase-Consulting/dwd-assessment-tool/GoogleAPI"
)

var errNotFound = errors.New("not found")

type fakeProjects struct {
	projects []*cloudresourcemanager.Project
	policies map[string]*cloudresourcemanager.Policy
	listErr  error
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*cloudresourcemanager.Project, error) {
	for _, p := range f.projects {
		if p.ProjectId == id {
			return p, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeProjects) GetAllProjects(context.Context) ([]*cloudresourcemanager.Project, error) {
	return f.projects, f.listErr
}

func (f *fakeProjects) GetIamPolicy(_ context.Context, id string) (*cloudresourcemanager.Policy, error) {
	if p, ok := f.policies[id]; ok {
		return p, nil
	}
	return nil, errNotFound
}

type fakeIAM struct {
	accounts   map[string][]*iam.ServiceAccount
	details    map[string]*iam.ServiceAccount
	saPolicies map[string]*iam.Policy
	roles      map[string][]string
	roleFetch  map[string]int
}

func (f *fakeIAM) GetProjectServiceAccounts(_ context.Context, projectID string) ([]*iam.ServiceAccount, error) {
	return f.accounts[projectID], nil
}

func (f *fakeIAM) GetServiceAccount(_ context.Context, name string) (*iam.ServiceAccount, error) {
	if sa, ok := f.details[name]; ok {
		return sa, nil
	}
	return nil, errNotFound
}

func (f *fakeIAM) GetServiceAccountIamPolicy(_ context.Context, name string) (*iam.Policy, error) {
	if p, ok := f.saPolicies[name]; ok {
		return p, nil
	}
	return &iam.Policy{}, nil
}

func (f *fakeIAM) GetRole(_ context.Context, name string) (*iam.Role, error) {
	if f.roleFetch == nil {
		f.roleFetch = map[string]int{}
	}
	f.roleFetch[name]++
	perms, ok := f.roles[name]
	if !ok {
		return nil, errNotFound
	}
	return &iam.Role{Name: name, IncludedPermissions: perms}, nil
}

type fakeKeys struct {
	ensured []string
	fail    map[string]error
}

func (f *fakeKeys) EnsureKey(_ context.Context, name string) (string, error) {
	if err := f.fail[name]; err != nil {
		return "", err
	}
	f.ensured = append(f.ensured, name)
	return "/keys/" + name + ".json", nil
}

type fakeIntrospector struct {
	info *oauth2api.Tokeninfo
	err  error
}

func (f *fakeIntrospector) TokenInfo(context.Context, string) (*oauth2api.Tokeninfo, error) {
	return f.info, f.err
}

type staticCreds struct {
	GoogleAPI.TokenCredentials
	email string
}

func (c *staticCreds) Email() string { return c.email }

func (c *staticCreds) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: c.AccessToken}, nil
}
