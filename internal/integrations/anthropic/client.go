package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"stark-agent/internal/domain"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	tokenParam     = "/anthropic-token"
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx responses from the Messages API.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Anthropic Messages API. One Client is shared by every
// request; it never retries.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	sdk         sdk.Client

	keyMu  sync.RWMutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client that reads its API token from
// <paramPrefix>/anthropic-token on the first call and reuses it for the
// lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("anthropic: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("anthropic: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	c.sdk = sdk.NewClient(
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)
	return c, nil
}

// TokenParameterName is where the API token is read from.
func (c *Client) TokenParameterName() string {
	return c.paramPrefix + tokenParam
}

// resolveAPIKey returns the cached token, fetching it when absent. Only a
// successful fetch is cached, so a failed read is retried by the next call.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.RLock()
	key := c.apiKey
	c.keyMu.RUnlock()
	if key != "" {
		return key, nil
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := fetchAPIKey(context.WithoutCancel(ctx), c.getter, c.TokenParameterName())
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

// Complete sends one Messages API request.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if strings.TrimSpace(req.Model) == "" {
		return domain.Completion{}, errors.New("anthropic: model must not be empty")
	}
	if req.MaxTokens <= 0 {
		return domain.Completion{}, errors.New("anthropic: max tokens must be positive")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.Completion{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toMessageParams(req.Messages),
		Tools:     toToolParams(req.Tools),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.sdk.Messages.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return domain.Completion{}, &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return domain.Completion{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	return fromMessage(msg), nil
}

func toMessageParams(turns []domain.Turn) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(t.Content))
		for _, b := range t.Content {
			switch b.Type {
			case domain.BlockText:
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			case domain.BlockToolUse:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ID, input, b.Name))
			case domain.BlockToolResult:
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if t.Role == domain.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func toToolParams(descriptors []domain.ToolDescriptor) []sdk.ToolUnionParam {
	if len(descriptors) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        d.Name,
			Description: sdk.String(d.Description),
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: d.Schema.Properties,
				Required:   d.Schema.Required,
			},
		}})
	}
	return out
}

func fromMessage(msg *sdk.Message) domain.Completion {
	if msg == nil {
		return domain.Completion{}
	}
	out := domain.Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: domain.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, domain.TextBlock(block.Text))
		case "tool_use":
			out.Content = append(out.Content, domain.Block{
				Type:  domain.BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: append(json.RawMessage(nil), block.Input...),
			})
		}
	}
	return out
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("anthropic: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("anthropic: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("anthropic: API token is empty")
	}
	return tp.Token, nil
}
