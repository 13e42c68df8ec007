package GoogleAPI

import (
	"context"
	"fmt"

	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// TokenInfoAPI introspects access tokens against the provider
type TokenInfoAPI struct {
	Service *oauth2api.Service
	Retry   *RetryPolicy
}

// NewTokenInfoAPI returns a new TokenInfoAPI. The endpoint needs no caller credentials.
func NewTokenInfoAPI(ctx context.Context, retry *RetryPolicy, opts ...option.ClientOption) (*TokenInfoAPI, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithoutAuthentication()}
	}
	service, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating token info client: %w", err)
	}
	return &TokenInfoAPI{Service: service, Retry: retry}, nil
}

// TokenInfo returns what the provider knows about accessToken
func (receiver *TokenInfoAPI) TokenInfo(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
	return CallWithRetry(ctx, receiver.Retry, "tokeninfo", func() (*oauth2api.Tokeninfo, error) {
		return receiver.Service.Tokeninfo().AccessToken(accessToken).Context(ctx).Do()
	})
}
