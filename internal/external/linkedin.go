package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"linkedai/internal/config"
	"linkedai/internal/types"
)

// LinkedInClient publishes posts through the LinkedIn UGC Posts API.
//
// Error classification matters here: 4xx responses mean the platform rejected
// the content or the credential and retrying the same payload cannot succeed,
// so those surface as terminal ErrCodePublishRejected. Rate limits, 5xx and
// network failures come back from BaseClient already flagged retryable.
type LinkedInClient struct {
	base        *BaseClient
	baseURL     string
	credentials CredentialLookup
}

// NewLinkedInClient creates a publish client with circuit breaker and retry
// handling inherited from BaseClient.
func NewLinkedInClient(cfg config.LinkedInConfig, credentials CredentialLookup, opts ...BaseClientOption) *LinkedInClient {
	return &LinkedInClient{
		base: NewBaseClient(
			&http.Client{Timeout: cfg.Timeout},
			"linkedin",
			DefaultRetryPolicy(),
			cfg.UserAgent,
			opts...,
		),
		baseURL:     cfg.APIBaseURL,
		credentials: credentials,
	}
}

// ugcPostRequest is the wire shape for POST /v2/ugcPosts.
type ugcPostRequest struct {
	Author          string                    `json:"author"`
	LifecycleState  string                    `json:"lifecycleState"`
	SpecificContent map[string]ugcShareContent `json:"specificContent"`
	Visibility      ugcVisibility             `json:"visibility"`
}

type ugcShareContent struct {
	ShareCommentary    ugcText    `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media,omitempty"`
}

type ugcText struct {
	Text string `json:"text"`
}

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

type ugcVisibility struct {
	MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

type ugcPostResponse struct {
	ID string `json:"id"`
}

type linkedInErrorResponse struct {
	Message       string `json:"message"`
	ServiceErrorCode int `json:"serviceErrorCode"`
	Status        int    `json:"status"`
}

// Publish implements PublishAPI. The access token is resolved at call time
// from the credential store so a token rotated after scheduling still works.
func (c *LinkedInClient) Publish(ctx context.Context, msg *types.PublishJobMessage) (*types.PublishResult, error) {
	token, err := c.credentials.GetAccessToken(ctx, msg.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential %s: %w", msg.CredentialID, err)
	}

	payload := ugcPostRequest{
		Author:         msg.AccountURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]ugcShareContent{
			"com.linkedin.ugc.ShareContent": buildShareContent(msg),
		},
		Visibility: ugcVisibility{MemberNetworkVisibility: "PUBLIC"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal UGC post payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build UGC post request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.base.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewRetryableError(types.ErrCodePublishTimeout,
				"publish attempt exceeded its deadline", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return c.decodeResult(resp)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, c.rejectionError(resp)
	default:
		// BaseClient retries 429/5xx internally; an unexpected code landing
		// here is treated transient.
		return nil, types.NewRetryableError(types.ErrCodeUpstreamLinkedIn,
			fmt.Sprintf("LinkedIn API returned unexpected status %d", resp.StatusCode), nil)
	}
}

func buildShareContent(msg *types.PublishJobMessage) ugcShareContent {
	content := ugcShareContent{
		ShareCommentary:    ugcText{Text: msg.Content},
		ShareMediaCategory: "NONE",
	}
	if msg.MediaURL != "" {
		content.ShareMediaCategory = "ARTICLE"
		content.Media = []ugcMedia{{Status: "READY", OriginalURL: msg.MediaURL}}
	}
	return content
}

func (c *LinkedInClient) decodeResult(resp *http.Response) (*types.PublishResult, error) {
	// LinkedIn returns the URN both in the body and the X-RestLi-Id header;
	// prefer the body, fall back to the header.
	var post ugcPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&post); err == nil && post.ID != "" {
		return &types.PublishResult{ExternalPostID: post.ID}, nil
	}
	if id := resp.Header.Get("X-RestLi-Id"); id != "" {
		return &types.PublishResult{ExternalPostID: id}, nil
	}
	return nil, types.NewRetryableError(types.ErrCodeUpstreamLinkedIn,
		"LinkedIn API response did not include a post ID", nil)
}

// rejectionError maps terminal 4xx responses. These must never be retried:
// the same content, token and author produce the same answer.
func (c *LinkedInClient) rejectionError(resp *http.Response) *types.AppError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := fmt.Sprintf("LinkedIn rejected the post (status %d)", resp.StatusCode)
	var apiErr linkedInErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		message = fmt.Sprintf("LinkedIn rejected the post (status %d): %s", resp.StatusCode, apiErr.Message)
	}

	appErr := types.NewAppError(types.ErrCodePublishRejected, message, nil)
	appErr.Details = map[string]any{
		"status_code": resp.StatusCode,
	}
	if apiErr.ServiceErrorCode != 0 {
		appErr.Details["service_error_code"] = apiErr.ServiceErrorCode
	}
	return appErr
}
