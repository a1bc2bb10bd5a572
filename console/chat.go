package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultChatURL is the chat completion endpoint used when the
	// credentials do not name one.
	DefaultChatURL = "https://api.openai.com/v1/chat/completions"

	// DefaultChatModel is the completion model used when the
	// credentials do not name one.
	DefaultChatModel = "gpt-3.5-turbo"

	// DefaultChatTimeout bounds a single completion round trip.
	DefaultChatTimeout = 30 * time.Second
)

// ErrNoAPIKey is returned when a completion is requested without an API
// key configured.
var ErrNoAPIKey = errors.New("no chat API key configured")

// ChatCredentials carry what the chat client needs to reach the
// completion endpoint.
type ChatCredentials struct {
	// APIKey is the bearer token presented to the endpoint.
	APIKey string

	// Model picks the completion model. Empty selects the default.
	Model string

	// URL overrides the completion endpoint, mainly for tests.
	URL string

	// Timeout bounds one completion request. Zero selects the
	// default.
	Timeout time.Duration
}

// ChatClient implements ChatCompleter against an OpenAI style chat
// completion endpoint.
type ChatClient struct {
	creds      ChatCredentials
	httpClient *http.Client
}

// A compile time check that ChatClient satisfies ChatCompleter.
var _ ChatCompleter = (*ChatClient)(nil)

// NewChatClient returns a client for the passed credentials.
func NewChatClient(creds ChatCredentials) *ChatClient {
	if creds.Model == "" {
		creds.Model = DefaultChatModel
	}
	if creds.URL == "" {
		creds.URL = DefaultChatURL
	}
	if creds.Timeout <= 0 {
		creds.Timeout = DefaultChatTimeout
	}

	return &ChatClient{
		creds: creds,
		httpClient: &http.Client{
			Timeout: creds.Timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt as a single user message and returns the
// first choice, whitespace trimmed.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string,
	error) {

	if c.creds.APIKey == "" {
		return "", ErrNoAPIKey
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.creds.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("unable to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.creds.URL, bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("unable to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.creds.APIKey)

	log.Debugf("Requesting chat completion, model=%s", c.creds.Model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("unable to read chat response: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("unable to decode chat response: %w",
			err)
	}

	if resp.StatusCode != http.StatusOK {
		if decoded.Error != nil {
			return "", fmt.Errorf("chat API error: %s",
				decoded.Error.Message)
		}
		return "", fmt.Errorf("chat API returned status %d: %s",
			resp.StatusCode, string(body))
	}

	if len(decoded.Choices) == 0 {
		return "", errors.New("chat API returned no choices")
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
