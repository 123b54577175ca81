// Package registry is the client for the coordinator's runner
// management endpoints. It is a pure adapter: every operation maps to
// one HTTP request, and every non-success path surfaces as a typed
// error carrying the operation, the target and the remote-reported
// reason. Read operations authenticate with a PRIVATE-TOKEN header;
// write operations embed their secret in the request body, matching
// the coordinator's API contract.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultHTTPTimeout = 30 * time.Second

// listScope restricts listings to shared runners, the class this tool
// manages.
const listScope = "shared"

// RunnerSummary is one entry of a runner listing. The summary carries
// no token; callers fetch the detail for that.
type RunnerSummary struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	Online      bool   `json:"online"`
	Status      string `json:"status"`
}

// Runner is the detailed view of a registered runner.
type Runner struct {
	ID          int      `json:"id"`
	Token       string   `json:"token"`
	Description string   `json:"description"`
	TagList     []string `json:"tag_list"`
}

// Registration is the coordinator's answer to a successful register
// call.
type Registration struct {
	ID    int    `json:"id"`
	Token string `json:"token"`
}

// TokenStatus is the outcome of a token verification. The coordinator
// answers 403 for a stale or unknown token; that is a negative result,
// not an error, and callers react by re-registering.
type TokenStatus int

const (
	// TokenStatusInvalid means the coordinator rejected the token.
	TokenStatusInvalid TokenStatus = iota

	// TokenStatusValid means the coordinator accepted the token.
	TokenStatusValid
)

// String implements fmt.Stringer.
func (s TokenStatus) String() string {
	if s == TokenStatusValid {
		return "valid"
	}
	return "invalid"
}

// ListFilter scopes a runner listing. Tags must never be empty: an
// unscoped listing would expose other hosts' runners to this run.
type ListFilter struct {
	Tags []string
}

// Client talks to one coordinator. It is stateless beyond its base URL
// and secrets; it may be shared across reconciliation passes.
type Client struct {
	baseURL    string
	readSecret string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for one coordinator endpoint. The read
// secret authenticates listing and detail lookups; it may be empty when
// only verify/register/delete are used.
func NewClient(baseURL, readSecret string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		readSecret: readSecret,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger.With().Str("component", "registry").Str("endpoint", baseURL).Logger(),
	}
}

// ListRunners returns the runners matching the filter. The filter is
// mandatory: listing without tags is a programming error, not "match
// everything".
func (c *Client) ListRunners(ctx context.Context, filter ListFilter) ([]RunnerSummary, error) {
	if len(filter.Tags) == 0 {
		return nil, &ListError{Endpoint: c.baseURL, Reason: "refusing to list runners without a tag filter"}
	}

	query := url.Values{}
	query.Set("scope", listScope)
	query.Set("tag_list", strings.Join(filter.Tags, ","))

	status, body, err := c.get(ctx, "/runners/all?"+query.Encode())
	if err != nil {
		return nil, &ListError{Endpoint: c.baseURL, Reason: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &ListError{Endpoint: c.baseURL, Status: status, Reason: string(body)}
	}

	var summaries []RunnerSummary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, &ListError{Endpoint: c.baseURL, Status: status, Reason: "malformed response body: " + err.Error()}
	}

	c.logger.Debug().Strs("tags", filter.Tags).Int("count", len(summaries)).Msg("listed runners")
	return summaries, nil
}

// RunnerDetail fetches one runner, including its token.
func (c *Client) RunnerDetail(ctx context.Context, id int) (*Runner, error) {
	status, body, err := c.get(ctx, fmt.Sprintf("/runners/%d", id))
	if err != nil {
		return nil, &ListError{Endpoint: c.baseURL, Reason: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &ListError{Endpoint: c.baseURL, Status: status,
			Reason: fmt.Sprintf("runner %d: %s", id, body)}
	}

	var runner Runner
	if err := json.Unmarshal(body, &runner); err != nil {
		return nil, &ListError{Endpoint: c.baseURL, Status: status, Reason: "malformed response body: " + err.Error()}
	}
	return &runner, nil
}

// VerifyToken asks the coordinator whether a runner token is still
// accepted. A 403 answer means the token is stale and yields
// TokenStatusInvalid with a nil error; every other non-2xx status is a
// VerificationError.
func (c *Client) VerifyToken(ctx context.Context, token string) (TokenStatus, error) {
	form := url.Values{}
	form.Set("token", token)

	status, body, err := c.submit(ctx, http.MethodPost, "/runners/verify", form)
	if err != nil {
		return TokenStatusInvalid, &VerificationError{Endpoint: c.baseURL, Reason: err.Error()}
	}

	switch {
	case status >= 200 && status < 300:
		return TokenStatusValid, nil
	case status == http.StatusForbidden:
		return TokenStatusInvalid, nil
	default:
		return TokenStatusInvalid, &VerificationError{Endpoint: c.baseURL, Status: status, Reason: string(body)}
	}
}

// Register creates a new runner registration and returns its id and
// token. The coordinator answers 201 on success; anything else is a
// RegistrationError.
func (c *Client) Register(ctx context.Context, description string, tagList []string, registrationSecret string) (*Registration, error) {
	form := url.Values{}
	form.Set("token", registrationSecret)
	form.Set("description", description)
	form.Set("tag_list", strings.Join(tagList, ","))

	status, body, err := c.submit(ctx, http.MethodPost, "/runners", form)
	if err != nil {
		return nil, &RegistrationError{Endpoint: c.baseURL, Description: description, Reason: err.Error()}
	}
	if status != http.StatusCreated {
		return nil, &RegistrationError{Endpoint: c.baseURL, Description: description, Status: status, Reason: string(body)}
	}

	var reg Registration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, &RegistrationError{Endpoint: c.baseURL, Description: description, Status: status,
			Reason: "malformed response body: " + err.Error()}
	}
	if reg.Token == "" {
		return nil, &RegistrationError{Endpoint: c.baseURL, Description: description, Status: status,
			Reason: "registration response carries no token"}
	}

	c.logger.Info().Str("description", description).Int("id", reg.ID).Msg("registered runner")
	return &reg, nil
}

// Delete removes the registration identified by a runner token. The
// coordinator answers 204 on success; anything else is a DeletionError.
func (c *Client) Delete(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)

	status, body, err := c.submit(ctx, http.MethodDelete, "/runners", form)
	if err != nil {
		return &DeletionError{Endpoint: c.baseURL, Reason: err.Error()}
	}
	if status != http.StatusNoContent {
		return &DeletionError{Endpoint: c.baseURL, Status: status, Reason: string(body)}
	}

	c.logger.Info().Msg("deleted runner")
	return nil
}

// get performs an authenticated read. The caller interprets the status
// code.
func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.readSecret != "" {
		req.Header.Set("PRIVATE-TOKEN", c.readSecret)
	}
	return c.do(req)
}

// submit performs a write with a form-encoded body. The secret travels
// inside the body, per the coordinator's contract for mutating calls.
func (c *Client) submit(ctx context.Context, method, path string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
