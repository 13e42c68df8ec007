package GoogleAPI

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/iam/v1"
	"google.golang.org/api/option"
)

const (
	keyAlgorithm   = "KEY_ALG_RSA_2048"
	privateKeyType = "TYPE_GOOGLE_CREDENTIALS_FILE"
)

// IamAPI is a wrapper for the IAM service
type IamAPI struct {
	Service *iam.Service
	Retry   *RetryPolicy
}

// NewIamAPI returns a new IamAPI
func NewIamAPI(ctx context.Context, retry *RetryPolicy, opts ...option.ClientOption) (*IamAPI, error) {
	service, err := iam.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating iam client: %w", err)
	}
	return &IamAPI{Service: service, Retry: retry}, nil
}

// GetProjectServiceAccounts returns every service account of a project
func (receiver *IamAPI) GetProjectServiceAccounts(ctx context.Context, projectID string) ([]*iam.ServiceAccount, error) {
	parent := "projects/" + projectID

	var accounts []*iam.ServiceAccount
	pageToken := ""
	for {
		res, err := CallWithRetry(ctx, receiver.Retry, "serviceAccounts.list", func() (*iam.ListServiceAccountsResponse, error) {
			return receiver.Service.Projects.ServiceAccounts.List(parent).PageToken(pageToken).Context(ctx).Do()
		})
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, res.Accounts...)

		pageToken = res.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return accounts, nil
}

// GetServiceAccount returns the details of one account, including its OAuth2 client id
func (receiver *IamAPI) GetServiceAccount(ctx context.Context, name string) (*iam.ServiceAccount, error) {
	return CallWithRetry(ctx, receiver.Retry, "serviceAccounts.get", func() (*iam.ServiceAccount, error) {
		return receiver.Service.Projects.ServiceAccounts.Get(name).Context(ctx).Do()
	})
}

// GetServiceAccountIamPolicy returns the resource-level policy of a service account
func (receiver *IamAPI) GetServiceAccountIamPolicy(ctx context.Context, name string) (*iam.Policy, error) {
	return CallWithRetry(ctx, receiver.Retry, "serviceAccounts.getIamPolicy", func() (*iam.Policy, error) {
		return receiver.Service.Projects.ServiceAccounts.GetIamPolicy(name).Context(ctx).Do()
	})
}

// GetRole resolves a predefined, project or organization role
func (receiver *IamAPI) GetRole(ctx context.Context, name string) (*iam.Role, error) {
	return CallWithRetry(ctx, receiver.Retry, "roles.get", func() (*iam.Role, error) {
		switch {
		case strings.HasPrefix(name, "projects/"):
			return receiver.Service.Projects.Roles.Get(name).Context(ctx).Do()
		case strings.HasPrefix(name, "organizations/"):
			return receiver.Service.Organizations.Roles.Get(name).Context(ctx).Do()
		default:
			return receiver.Service.Roles.Get(name).Context(ctx).Do()
		}
	})
}

// CreateKey creates an RSA-2048 key in the credentials-file encoding.
// The 10-key limit surfaces as a precondition failure, which is not retried.
func (receiver *IamAPI) CreateKey(ctx context.Context, serviceAccountName string) (*iam.ServiceAccountKey, error) {
	request := &iam.CreateServiceAccountKeyRequest{
		KeyAlgorithm:   keyAlgorithm,
		PrivateKeyType: privateKeyType,
	}
	return CallWithRetry(ctx, receiver.Retry, "keys.create", func() (*iam.ServiceAccountKey, error) {
		return receiver.Service.Projects.ServiceAccounts.Keys.Create(serviceAccountName, request).Context(ctx).Do()
	})
}

// DeleteKey deletes projects/{project}/serviceAccounts/{email}/keys/{id}
func (receiver *IamAPI) DeleteKey(ctx context.Context, keyName string) error {
	_, err := CallWithRetry(ctx, receiver.Retry, "keys.delete", func() (*iam.Empty, error) {
		return receiver.Service.Projects.ServiceAccounts.Keys.Delete(keyName).Context(ctx).Do()
	})
	return err
}
