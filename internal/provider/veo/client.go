// Package veo implements models.VideoProvider against a Veo-style
// long-running-operation HTTP API.
package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/reelforge/reelforge/pkg/models"
)

// Sentinel errors for provider transport failures.
var (
	ErrUnreachable        = errors.New("video provider unreachable")
	ErrSubmissionRejected = errors.New("video provider rejected submission")
	ErrTimeout            = errors.New("video provider timeout")
	ErrOperationNotFound  = errors.New("operation not found")
)

// Client implements models.VideoProvider using the provider's HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new provider HTTP client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "veo" }

// Submit sends one generation request and returns the operation name
// the provider assigns to it.
func (c *Client) Submit(ctx context.Context, secret string, req models.SubmitRequest) (string, error) {
	prompt := req.Prompt
	if req.SceneContext != "" {
		prompt = req.SceneContext + "\n\n" + prompt
	}
	if req.CharacterContext != "" {
		prompt = prompt + "\n\nCharacters: " + req.CharacterContext
	}

	body, err := json.Marshal(generateRequest{
		Prompt:      prompt,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/videos:generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, secret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("%w: %s (status %d)", ErrSubmissionRejected, errResp.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: status %d", ErrSubmissionRejected, resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding submit response: %w", err)
	}
	if genResp.Name == "" {
		return "", fmt.Errorf("%w: response missing operation name", ErrSubmissionRejected)
	}

	return genResp.Name, nil
}

// Poll fetches the current state of an operation. The raw status
// string is passed through untouched; the poller owns normalization.
func (c *Client) Poll(ctx context.Context, secret string, operationHandle string) (models.PollResult, error) {
	u := fmt.Sprintf("%s/v1/%s", c.baseURL, url.PathEscape(operationHandle))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.PollResult{}, fmt.Errorf("building request: %w", err)
	}
	setAuth(httpReq, secret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.PollResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.PollResult{}, fmt.Errorf("%w: %s", ErrOperationNotFound, operationHandle)
	}
	if resp.StatusCode != http.StatusOK {
		return models.PollResult{}, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	var opResp operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&opResp); err != nil {
		return models.PollResult{}, fmt.Errorf("decoding poll response: %w", err)
	}

	return models.PollResult{
		RawStatus:    opResp.Metadata.Status,
		ArtifactURL:  opResp.Response.VideoURL,
		ErrorMessage: opResp.Error.Message,
	}, nil
}

func setAuth(req *http.Request, secret string) {
	req.Header.Set("x-goog-api-key", secret)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// --- provider wire types ---

type generateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generateResponse struct {
	Name string `json:"name"`
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		Status string `json:"status"`
	} `json:"metadata"`
	Response struct {
		VideoURL string `json:"videoUrl"`
	} `json:"response"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Compile-time check that Client implements VideoProvider.
var _ models.VideoProvider = (*Client)(nil)
