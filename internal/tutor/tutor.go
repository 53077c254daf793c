// Package tutor asks a Gemini model for hints about the code in a room.
package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Gemini REST endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash-preview-05-20"

	// FallbackReply is shown when the model returns no text.
	FallbackReply = "Sorry, I couldn't generate a response. Please try again."
)

// SystemPrompt steers the model towards hints instead of solutions.
const SystemPrompt = `You are an expert programming tutor. Your goal is to help a student learn by guiding them to the solution, not giving it away.
Analyze the user's code, their provided input, and the resulting output.
Provide hints, ask leading questions, and explain concepts.
Do not write the correct code for them unless they are completely stuck and explicitly ask for the solution.
Keep your responses concise and encouraging.`

// Context is what the student currently sees.
type Context struct {
	Language string
	Code     string
	Input    string
	Output   []string
}

// Options configures the client.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls generateContent.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New builds a client, filling unset options with defaults.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction content   `json:"systemInstruction"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Ask sends question together with the student's context and returns the
// model's reply.
func (c *Client) Ask(ctx context.Context, sc Context, question string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents:          []content{{Parts: []part{{Text: BuildPrompt(sc, question)}}}},
		SystemInstruction: content{Parts: []part{{Text: SystemPrompt}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("call model: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 || out.Candidates[0].Content.Parts[0].Text == "" {
		return FallbackReply, nil
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// BuildPrompt renders the student's situation and question.
func BuildPrompt(sc Context, question string) string {
	input := sc.Input
	if input == "" {
		input = "No input provided."
	}
	output := strings.Join(sc.Output, "\n")
	if output == "" {
		output = "No output yet."
	}

	var b strings.Builder
	b.WriteString("Here is my current situation:\n")
	fmt.Fprintf(&b, "Language: %s\n", sc.Language)
	fmt.Fprintf(&b, "Code:\n```%s\n%s\n```\n", sc.Language, sc.Code)
	fmt.Fprintf(&b, "Input given to the code:\n```\n%s\n```\n", input)
	fmt.Fprintf(&b, "Output from the code:\n```\n%s\n```\n", output)
	fmt.Fprintf(&b, "My question is: %s\n", question)
	return b.String()
}
