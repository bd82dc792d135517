package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stark-agent/internal/domain"
)

type fakeParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (f *fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.vals[name]
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	return v, nil
}

// scriptedLLM replays responses in order and records every request.
type scriptedLLM struct {
	responses []domain.Completion
	errs      []error
	requests  []domain.CompletionRequest
	deadlines []bool
}

func (f *scriptedLLM) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	i := len(f.requests)
	snapshot := req
	snapshot.Messages = append([]domain.Turn(nil), req.Messages...)
	f.requests = append(f.requests, snapshot)
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.Completion{}, f.errs[i]
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

type toolCall struct {
	name  string
	input string
}

type fakeTools struct {
	calls   []toolCall
	results map[string]domain.ToolResult
}

func (f *fakeTools) Descriptors() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{{Name: "create_item"}, {Name: "update_status"}}
}

func (f *fakeTools) Execute(_ context.Context, name string, input json.RawMessage) domain.ToolResult {
	f.calls = append(f.calls, toolCall{name: name, input: string(input)})
	if res, ok := f.results[name]; ok {
		return res
	}
	return domain.ToolResult{Success: true, Message: name + " ok"}
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func textResponse(text string) domain.Completion {
	return domain.Completion{
		StopReason: domain.StopEndTurn,
		Content:    []domain.Block{domain.TextBlock(text)},
		Usage:      domain.Usage{InputTokens: 50, OutputTokens: 20},
	}
}

func toolUse(id, name, input string) domain.Block {
	return domain.Block{Type: domain.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)}
}

func toolResponse(blocks ...domain.Block) domain.Completion {
	return domain.Completion{StopReason: domain.StopToolUse, Content: blocks}
}

func testConfig() AgentConfig {
	return AgentConfig{
		ParamPrefix:  "/stark/",
		FastModel:    "fast-model",
		ToolsModel:   "tools-model",
		MaxTokens:    8192,
		ToolsEnabled: true,
	}
}

func newTestAgent(t *testing.T, llm LLMClient, tools ToolExecutor, cfg AgentConfig) (*AgentService, *fakeParams) {
	t.Helper()
	params := &fakeParams{vals: map[string]string{"/stark/pinned_prompt": "Responda em português."}}
	svc, err := NewAgentService(params, llm, tools, cfg)
	require.NoError(t, err)
	return svc, params
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var uErr *Error
	require.ErrorAs(t, err, &uErr)
	require.Equal(t, code, uErr.Code)
}

func TestRun_PlainAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{{
		StopReason: domain.StopEndTurn,
		Content:    []domain.Block{domain.TextBlock("Olá!"), domain.TextBlock("Tudo certo.")},
		Usage:      domain.Usage{InputTokens: 10, OutputTokens: 4},
	}}}
	cfg := testConfig()
	cfg.ToolsEnabled = false
	svc, _ := newTestAgent(t, llm, nil, cfg)

	out, err := svc.Run(context.Background(), AgentInput{Message: "  oi  "})
	require.NoError(t, err)
	require.Equal(t, "Olá!\nTudo certo.", out.Response)
	require.Equal(t, "fast-model", out.Model)
	require.Equal(t, domain.Usage{InputTokens: 10, OutputTokens: 4}, out.Usage)
	require.Zero(t, out.ToolsUsed)
	require.False(t, out.Truncated)

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	require.Empty(t, req.Tools)
	require.Contains(t, req.System, "STARK")
	require.Contains(t, req.System, "Responda em português.")
	require.Equal(t, []domain.Turn{domain.UserText("oi")}, req.Messages)
}

func TestRun_EmptyMessageMakesNoCalls(t *testing.T) {
	llm := &scriptedLLM{}
	tools := &fakeTools{}
	svc, params := newTestAgent(t, llm, tools, testConfig())

	for _, msg := range []string{"", "   \n"} {
		_, err := svc.Run(context.Background(), AgentInput{Message: msg})
		requireCode(t, err, ErrorInvalidInput)
	}
	require.Empty(t, llm.requests)
	require.Empty(t, tools.calls)
	require.Zero(t, params.calls)
}

func TestRun_MessageTooLong(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageLength = 5
	svc, _ := newTestAgent(t, &scriptedLLM{}, &fakeTools{}, cfg)
	_, err := svc.Run(context.Background(), AgentInput{Message: "abcdef"})
	requireCode(t, err, ErrorInvalidInput)
}

func TestRun_TwoToolUsesInOneTurn(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{
		toolResponse(
			domain.TextBlock("Registrando."),
			toolUse("toolu_1", "create_item", `{"name":"Posto Ipiranga"}`),
			toolUse("toolu_2", "update_status", `{"item_name":"Posto Ipiranga","status":"Paid"}`),
		),
		textResponse("Feito: criado e marcado como pago."),
	}}
	tools := &fakeTools{results: map[string]domain.ToolResult{
		"update_status": {Error: "not found"},
	}}
	svc, _ := newTestAgent(t, llm, tools, testConfig())

	out, err := svc.Run(context.Background(), AgentInput{Message: "lança o posto e marca como pago"})
	require.NoError(t, err)
	require.Equal(t, "Feito: criado e marcado como pago.", out.Response)
	require.Equal(t, 1, out.ToolsUsed)
	require.False(t, out.Truncated)
	require.Equal(t, "tools-model", out.Model)

	require.Equal(t, []toolCall{
		{name: "create_item", input: `{"name":"Posto Ipiranga"}`},
		{name: "update_status", input: `{"item_name":"Posto Ipiranga","status":"Paid"}`},
	}, tools.calls)

	require.Len(t, llm.requests, 2)
	second := llm.requests[1]
	require.Len(t, second.Messages, 3)
	assistant := second.Messages[1]
	require.Equal(t, domain.RoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 3)

	results := second.Messages[2]
	require.Equal(t, domain.RoleUser, results.Role)
	require.Len(t, results.Content, 2)
	require.Equal(t, domain.BlockToolResult, results.Content[0].Type)
	require.Equal(t, "toolu_1", results.Content[0].ToolUseID)
	require.False(t, results.Content[0].IsError)
	require.JSONEq(t, `{"success":true,"message":"create_item ok"}`, results.Content[0].Content)
	require.Equal(t, "toolu_2", results.Content[1].ToolUseID)
	require.True(t, results.Content[1].IsError)
	require.JSONEq(t, `{"success":false,"error":"not found"}`, results.Content[1].Content)

	require.Equal(t, llm.requests[0].System, second.System, "system prompt never changes mid-conversation")
	require.Len(t, second.Tools, 2)
}

func TestRun_IterationCapTruncates(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{
		toolResponse(domain.TextBlock("ainda trabalhando"), toolUse("t", "create_item", `{}`)),
	}}
	tools := &fakeTools{}
	svc, _ := newTestAgent(t, llm, tools, testConfig())

	out, err := svc.Run(context.Background(), AgentInput{Message: "loop"})
	require.NoError(t, err)
	require.True(t, out.Truncated)
	require.Equal(t, 10, out.ToolsUsed)
	require.Equal(t, "ainda trabalhando", out.Response)
	require.Len(t, llm.requests, 11, "cap tool iterations plus the final call")
	require.Len(t, tools.calls, 10)
}

func TestRun_CustomCap(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{toolResponse(toolUse("t", "create_item", `{}`))}}
	cfg := testConfig()
	cfg.MaxIterations = 2
	svc, _ := newTestAgent(t, llm, &fakeTools{}, cfg)

	out, err := svc.Run(context.Background(), AgentInput{Message: "loop"})
	require.NoError(t, err)
	require.True(t, out.Truncated)
	require.Empty(t, out.Response)
	require.Len(t, llm.requests, 3)
}

func TestRun_FinishesExactlyAtCapWithoutTruncation(t *testing.T) {
	responses := make([]domain.Completion, 0, 4)
	for i := 0; i < 3; i++ {
		responses = append(responses, toolResponse(toolUse(fmt.Sprintf("t%d", i), "create_item", `{}`)))
	}
	responses = append(responses, textResponse("ok"))
	cfg := testConfig()
	cfg.MaxIterations = 3
	svc, _ := newTestAgent(t, &scriptedLLM{responses: responses}, &fakeTools{}, cfg)

	out, err := svc.Run(context.Background(), AgentInput{Message: "x"})
	require.NoError(t, err)
	require.False(t, out.Truncated)
	require.Equal(t, 3, out.ToolsUsed)
	require.Equal(t, "ok", out.Response)
}

func TestRun_ProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"rate limited", statusErr{code: 429}, ErrorRateLimited},
		{"server error", statusErr{code: 500}, ErrorUpstream},
		{"network", errors.New("connection reset"), ErrorUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{errs: []error{tt.err}}
			svc, _ := newTestAgent(t, llm, &fakeTools{}, testConfig())
			_, err := svc.Run(context.Background(), AgentInput{Message: "oi"})
			requireCode(t, err, tt.code)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRun_ProviderErrorMidLoopAborts(t *testing.T) {
	llm := &scriptedLLM{
		responses: []domain.Completion{toolResponse(toolUse("t1", "create_item", `{}`))},
		errs:      []error{nil, errors.New("overloaded")},
	}
	tools := &fakeTools{}
	svc, _ := newTestAgent(t, llm, tools, testConfig())

	_, err := svc.Run(context.Background(), AgentInput{Message: "oi"})
	requireCode(t, err, ErrorUpstream)
	require.Len(t, tools.calls, 1)
}

func TestRun_PersonaLoadedOnceAndRetriedAfterFailure(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{textResponse("ok")}}
	params := &fakeParams{err: errors.New("throttled")}
	cfg := testConfig()
	svc, err := NewAgentService(params, llm, &fakeTools{}, cfg)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), AgentInput{Message: "oi"})
	requireCode(t, err, ErrorInternal)
	require.Empty(t, llm.requests)

	params.err = nil
	params.vals = map[string]string{"/stark/pinned_prompt": ""}
	for _i := 0; _i < 3; _i++ {
		_, err = svc.Run(context.Background(), AgentInput{Message: "oi"})
		require.NoError(t, err)
	}
	require.Equal(t, 2, params.calls)
}

func TestRun_ImportedFileSelectsLargeModelAndAugmentsMessage(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{textResponse("análise")}}
	cfg := testConfig()
	cfg.ToolsEnabled = false
	svc, _ := newTestAgent(t, llm, nil, cfg)

	file := &domain.ImportedFile{
		Filename: "extrato.csv",
		Receitas: decimal.NewFromInt(60),
		Despesas: decimal.NewFromInt(20),
		Items: []domain.ImportedEntry{
			{Tipo: "receita", Data: "01/12", Descricao: "Cliente", Valor: decimal.NewFromInt(60)},
			{Tipo: "despesa", Data: "02/12", Descricao: "Posto", Valor: decimal.NewFromInt(20)},
		},
	}
	out, err := svc.Run(context.Background(), AgentInput{Message: "analise", ImportedFile: file})
	require.NoError(t, err)
	require.Equal(t, "tools-model", out.Model)

	msgs := llm.requests[0].Messages
	last := msgs[len(msgs)-1].Text()
	require.True(t, strings.HasPrefix(last, "analise\n\n---\nDADOS DO ARQUIVO IMPORTADO:"))
	require.Contains(t, last, "• Saldo: R$ 40.00")
	require.Contains(t, last, "01/12 | Cliente | R$ 60.00")
}

func TestRun_HistoryWindow(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{textResponse("ok")}}
	cfg := testConfig()
	cfg.HistoryWindow = 3
	svc, _ := newTestAgent(t, llm, &fakeTools{}, cfg)

	history := []domain.Turn{
		domain.UserText("u1"),
		{Role: domain.RoleAssistant, Content: []domain.Block{domain.TextBlock("a1")}},
		domain.UserText("u2"),
		{Role: domain.RoleAssistant, Content: []domain.Block{domain.TextBlock("a2")}},
	}
	_, err := svc.Run(context.Background(), AgentInput{Message: "u3", History: history})
	require.NoError(t, err)

	msgs := llm.requests[0].Messages
	// window of 3 starts with a1, which is dropped so the user speaks first
	require.Len(t, msgs, 3)
	require.Equal(t, "u2", msgs[0].Text())
	require.Equal(t, "a2", msgs[1].Text())
	require.Equal(t, "u3", msgs[2].Text())
}

func TestRun_AppliesDeadlines(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{textResponse("ok")}}
	cfg := testConfig()
	cfg.ModelTimeout = time.Minute
	svc, _ := newTestAgent(t, llm, &fakeTools{}, cfg)

	_, err := svc.Run(context.Background(), AgentInput{Message: "oi"})
	require.NoError(t, err)
	require.Equal(t, []bool{true}, llm.deadlines)
}

func TestRun_ElapsedUsesClock(t *testing.T) {
	llm := &scriptedLLM{responses: []domain.Completion{textResponse("ok")}}
	svc, _ := newTestAgent(t, llm, &fakeTools{}, testConfig())
	base := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(1500 * time.Millisecond)}
	svc.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	out, err := svc.Run(context.Background(), AgentInput{Message: "oi"})
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, out.Elapsed)
}

func TestNewAgentService_Validation(t *testing.T) {
	params := &fakeParams{}
	llm := &scriptedLLM{}
	_, err := NewAgentService(nil, llm, nil, testConfig())
	require.Error(t, err)
	_, err = NewAgentService(params, nil, nil, testConfig())
	require.Error(t, err)
	_, err = NewAgentService(params, llm, nil, testConfig())
	require.ErrorContains(t, err, "tool executor")

	cfg := testConfig()
	cfg.ParamPrefix = "/"
	_, err = NewAgentService(params, llm, &fakeTools{}, cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.FastModel = ""
	_, err = NewAgentService(params, llm, &fakeTools{}, cfg)
	require.Error(t, err)
}
