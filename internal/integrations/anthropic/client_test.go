package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"stark-agent/internal/domain"
)

// fakeGetter is a minimal Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
	last   string
	ctxErr error
}

func (f *fakeGetter) GetParameter(ctx context.Context, name string) (string, error) {
	f.last = name
	f.ctxErr = ctx.Err()
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-ant-test"}`}, "/stark/", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/stark")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/stark/")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "/stark/anthropic-token", c.TokenParameterName())
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/stark")
	require.NoError(t, err)

	for _i := 0; _i < 3; _i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", key)
	}
	require.Equal(t, 1, calls, "a fetched token is reused")
	require.Equal(t, "/stark/anthropic-token", g.last)
}

func TestResolveAPIKey_RetriesAfterFailure(t *testing.T) {
	calls := 0
	g := &fakeGetter{err: errors.New("ssm throttled")}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/stark")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "ssm throttled")

	g.err = nil
	g.val = `{"token":"sk-recovered"}`
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-recovered", key)

	_, err = c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestResolveAPIKey_IgnoresCallerCancellation(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	c, err := NewClient(g, "/stark")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	key, err := c.resolveAPIKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.NoError(t, g.ctxErr)
}

func TestFetchAPIKey_Errors(t *testing.T) {
	_, err := fetchAPIKey(context.Background(), &fakeGetter{err: errors.New("denied")}, "p")
	require.ErrorContains(t, err, "denied")

	_, err = fetchAPIKey(context.Background(), &fakeGetter{val: "not-json"}, "p")
	require.ErrorContains(t, err, "unmarshal")

	_, err = fetchAPIKey(context.Background(), &fakeGetter{val: `{"token":" "}`}, "p")
	require.ErrorContains(t, err, "empty")
}

func TestComplete_SendsToolsAndParsesToolUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",
			"content":[
				{"type":"text","text":"Vou registrar."},
				{"type":"tool_use","id":"toolu_01","name":"create_item","input":{"period":"2025-12","amount":150}}
			],
			"stop_reason":"tool_use","stop_sequence":null,
			"usage":{"input_tokens":120,"output_tokens":40}
		}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), domain.CompletionRequest{
		Model:     "claude-sonnet-4-20250514",
		System:    "Você é o STARK.",
		MaxTokens: 1024,
		Tools: []domain.ToolDescriptor{{
			Name:        "create_item",
			Description: "Cria um lançamento",
			Schema: domain.Schema{
				Properties: map[string]domain.Property{"period": {Type: "string"}},
				Required:   []string{"period"},
			},
		}},
		Messages: []domain.Turn{
			domain.UserText("oi"),
			{Role: domain.RoleAssistant, Content: []domain.Block{domain.TextBlock("")}},
			domain.UserText("registre o posto"),
		},
	})
	require.NoError(t, err)

	require.Equal(t, "msg_01", out.ID)
	require.Equal(t, domain.StopToolUse, out.StopReason)
	require.Equal(t, domain.Usage{InputTokens: 120, OutputTokens: 40}, out.Usage)
	require.Equal(t, "Vou registrar.", out.Text())
	uses := out.ToolUses()
	require.Len(t, uses, 1)
	require.Equal(t, "toolu_01", uses[0].ID)
	require.Equal(t, "create_item", uses[0].Name)
	require.JSONEq(t, `{"period":"2025-12","amount":150}`, string(uses[0].Input))

	require.Equal(t, "claude-sonnet-4-20250514", body["model"])
	require.EqualValues(t, 1024, body["max_tokens"])
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	require.Equal(t, "create_item", tools[0].(map[string]any)["name"])
	// the empty assistant turn is dropped
	require.Len(t, body["messages"].([]any), 2)
}

func TestComplete_ToolResultsRoundTrip(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string           `json:"role"`
			Content []map[string]any `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_02","type":"message","role":"assistant","model":"m",
			"content":[{"type":"text","text":"Pronto."}],"stop_reason":"end_turn",
			"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), domain.CompletionRequest{
		Model:     "m",
		MaxTokens: 10,
		Messages: []domain.Turn{
			domain.UserText("registre"),
			{Role: domain.RoleAssistant, Content: []domain.Block{
				{Type: domain.BlockToolUse, ID: "toolu_a", Name: "list_items", Input: json.RawMessage(`{"period":"2025-12"}`)},
			}},
			{Role: domain.RoleUser, Content: []domain.Block{
				domain.ToolResultBlock("toolu_a", `{"success":true}`, false),
			}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StopEndTurn, out.StopReason)

	require.Len(t, body.Messages, 3)
	require.Equal(t, "assistant", body.Messages[1].Role)
	require.Equal(t, "tool_use", body.Messages[1].Content[0]["type"])
	require.Equal(t, "toolu_a", body.Messages[1].Content[0]["id"])
	require.Equal(t, "tool_result", body.Messages[2].Content[0]["type"])
	require.Equal(t, "toolu_a", body.Messages[2].Content[0]["tool_use_id"])
}

func TestComplete_StatusError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), domain.CompletionRequest{
		Model: "m", MaxTokens: 10, Messages: []domain.Turn{domain.UserText("oi")},
	})
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Equal(t, 1, calls, "requests are never retried")
}

func TestComplete_TokenErrorSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{err: errors.New("no access")}, "/stark", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), domain.CompletionRequest{Model: "m", MaxTokens: 10})
	require.ErrorContains(t, err, "no access")
}

func TestComplete_Validation(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/stark")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), domain.CompletionRequest{MaxTokens: 10})
	require.ErrorContains(t, err, "model")
	_, err = c.Complete(context.Background(), domain.CompletionRequest{Model: "m"})
	require.ErrorContains(t, err, "max tokens")
}
