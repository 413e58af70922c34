// Package ai talks to the analysis provider (the Anthropic Messages API)
// to triage messages and draft replies.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"

	// maxBodyRunes caps the message body sent for analysis.
	maxBodyRunes = 8000
)

// AnalyzeInput is the message content submitted for triage.
type AnalyzeInput struct {
	Subject string
	Body    string
	Sender  string
}

// ReplyInput carries what the provider needs to draft a reply.
type ReplyInput struct {
	Subject   string
	Body      string
	Sender    string
	Verdict   model.Triage
	UserName  string
	Signature string
}

// Client is a minimal Messages API client. It holds no conversation state;
// every call is a single request.
type Client struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	validate  *validator.Validate
}

// New creates a client from the analysis config. Per-call timeouts come from
// the caller's context.
func New(cfg model.AnalysisConfig, apiKey string) *Client {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     modelName,
		maxTokens: maxTokens,
		client:    &http.Client{},
		validate:  validator.New(),
	}
}

// Analyze asks the provider for a triage verdict. Transport and HTTP
// failures are ConnectivityErrors; output that does not parse or validate
// is a MalformedResponseError.
func (c *Client) Analyze(ctx context.Context, in AnalyzeInput) (model.Triage, error) {
	text, err := c.complete(ctx, analyzeSystemPrompt, buildAnalyzePrompt(in))
	if err != nil {
		return model.Triage{}, err
	}
	return c.parseVerdict(text)
}

// GenerateReply asks the provider to draft a reply on behalf of the owner.
func (c *Client) GenerateReply(ctx context.Context, in ReplyInput) (string, error) {
	text, err := c.complete(ctx, replySystemPrompt, buildReplyPrompt(in))
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(text)
	if reply == "" {
		return "", &failure.MalformedResponseError{Reason: "empty reply"}
	}
	if in.Signature != "" && !strings.Contains(reply, in.Signature) {
		reply += "\n\n" + in.Signature
	}
	return reply, nil
}

// complete makes a single request to the Messages API and returns the
// concatenated text blocks.
func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: prompt}},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", failure.Connectivity("calling analysis provider", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure.Connectivity("reading analysis response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		err := fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", failure.Auth("calling analysis provider", err)
		}
		return "", failure.Connectivity("calling analysis provider", err)
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &failure.MalformedResponseError{Reason: "decoding response envelope", Raw: string(respBody)}
	}

	var textParts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	return strings.Join(textParts, ""), nil
}

// verdictPayload is the JSON object the analysis prompt asks for.
type verdictPayload struct {
	Summary           string   `json:"summary" validate:"required"`
	Urgency           string   `json:"urgency" validate:"required,oneof=low medium high critical"`
	Sentiment         string   `json:"sentiment" validate:"required,oneof=positive neutral negative"`
	RequiresResponse  *bool    `json:"requires_response" validate:"required"`
	ResponseReason    string   `json:"response_reason"`
	SuggestedResponse string   `json:"suggested_response"`
	KeyPoints         []string `json:"key_points"`
	ActionItems       []string `json:"action_items"`
}

// parseVerdict extracts the first JSON object from the model's text,
// tolerating prose or code fences around it.
func (c *Client) parseVerdict(text string) (model.Triage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return model.Triage{}, &failure.MalformedResponseError{Reason: "no json object in response", Raw: text}
	}

	var p verdictPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return model.Triage{}, &failure.MalformedResponseError{Reason: "invalid json: " + err.Error(), Raw: text}
	}

	p.Urgency = strings.ToLower(strings.TrimSpace(p.Urgency))
	p.Sentiment = strings.ToLower(strings.TrimSpace(p.Sentiment))
	if err := c.validate.Struct(p); err != nil {
		return model.Triage{}, &failure.MalformedResponseError{Reason: "invalid verdict: " + err.Error(), Raw: text}
	}

	return model.Triage{
		Summary:           strings.TrimSpace(p.Summary),
		Urgency:           model.Urgency(p.Urgency),
		Sentiment:         model.Sentiment(p.Sentiment),
		RequiresResponse:  *p.RequiresResponse,
		ResponseReason:    strings.TrimSpace(p.ResponseReason),
		SuggestedResponse: strings.TrimSpace(p.SuggestedResponse),
		KeyPoints:         p.KeyPoints,
		ActionItems:       p.ActionItems,
	}, nil
}

// --- Messages API wire types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
