package GoogleAPI

import (
	"context"
	"fmt"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/option"
)

// CloudResourceManagerAPI This is the struct that is used to interact with the Cloud Resource Manager API
type CloudResourceManagerAPI struct {
	Service *cloudresourcemanager.Service
	Retry   *RetryPolicy
}

// NewCloudResourceManagerAPI returns a new CloudResourceManagerAPI
func NewCloudResourceManagerAPI(ctx context.Context, retry *RetryPolicy, opts ...option.ClientOption) (*CloudResourceManagerAPI, error) {
	service, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating cloud resource manager client: %w", err)
	}
	return &CloudResourceManagerAPI{Service: service, Retry: retry}, nil
}

// GetProject returns a single project, failing when it is not visible to the caller
func (receiver *CloudResourceManagerAPI) GetProject(ctx context.Context, projectID string) (*cloudresourcemanager.Project, error) {
	return CallWithRetry(ctx, receiver.Retry, "projects.get", func() (*cloudresourcemanager.Project, error) {
		return receiver.Service.Projects.Get(projectID).Context(ctx).Do()
	})
}

// GetAllProjects returns all projects
func (receiver *CloudResourceManagerAPI) GetAllProjects(ctx context.Context) ([]*cloudresourcemanager.Project, error) {
	var allProjects []*cloudresourcemanager.Project
	var pageToken string

	// loop through all pages
	for {
		response, err := CallWithRetry(ctx, receiver.Retry, "projects.list", func() (*cloudresourcemanager.ListProjectsResponse, error) {
			return receiver.Service.Projects.List().PageToken(pageToken).Context(ctx).Do()
		})
		if err != nil {
			return nil, err
		}

		allProjects = append(allProjects, response.Projects...)

		// if there is no next page, break
		if response.NextPageToken == "" {
			break
		}
		pageToken = response.NextPageToken
	}

	return allProjects, nil
}

// GetIamPolicy returns the project-level IAM policy
func (receiver *CloudResourceManagerAPI) GetIamPolicy(ctx context.Context, projectID string) (*cloudresourcemanager.Policy, error) {
	return CallWithRetry(ctx, receiver.Retry, "projects.getIamPolicy", func() (*cloudresourcemanager.Policy, error) {
		return receiver.Service.Projects.GetIamPolicy(projectID, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	})
}
