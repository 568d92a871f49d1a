// Package gemini holds the REST plumbing shared by the Gemini text-generation
// and speech-generation providers: model path escaping, API key handling and
// error decoding for the generativelanguage.googleapis.com v1beta API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Gemini API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("gemini: api key must not be empty")

// ---- wire types ----

// Part is one piece of content. Only one field is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded binary content.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Candidate is one generated alternative.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// GenerateResponse is the body of generateContent and of each
// streamGenerateContent SSE event.
type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Text joins the text parts of the first candidate.
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// APIError is a non-2xx response from the Gemini API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: status %d: %s", e.StatusCode, e.Message)
}

// ---- client ----

// Client issues authenticated requests against the Gemini REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// ModelPath returns the escaped path segment for model. A leading "models/"
// is stripped and every byte outside [A-Za-z0-9-._] is percent-encoded.
func ModelPath(model string) string {
	model = strings.TrimPrefix(model, "models/")
	var sb strings.Builder
	for i := 0; i < len(model); i++ {
		c := model[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.', c == '_':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

// Post sends body as JSON to models/{model}:{method} and returns the response
// for the caller to read. Non-2xx responses are decoded into *APIError.
func (c *Client) Post(ctx context.Context, model, method string, query url.Values, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.apiKey)
	endpoint := c.baseURL + "/models/" + ModelPath(model) + ":" + method + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: %s: %w", method, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// Generate posts to generateContent and decodes the response.
func (c *Client) Generate(ctx context.Context, model string, body any) (*GenerateResponse, error) {
	resp, err := c.Post(ctx, model, "generateContent", nil, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	return &out, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
