package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stark-agent/internal/domain"
	"stark-agent/internal/logger"
)

const (
	defaultMaxIterations = 10
	defaultHistoryWindow = 6
	defaultMaxMessageLen = 20000
	defaultMaxTokens     = 8192
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

type ToolExecutor interface {
	Descriptors() []domain.ToolDescriptor
	Execute(ctx context.Context, name string, input json.RawMessage) domain.ToolResult
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	ParamPrefix      string
	FastModel        string
	ToolsModel       string
	MaxTokens        int64
	ToolsEnabled     bool
	HistoryWindow    int
	MaxMessageLength int
	MaxIterations    int
	ModelTimeout     time.Duration
	RequestTimeout   time.Duration
}

type AgentService struct {
	params ParamGetter
	llm    LLMClient
	tools  ToolExecutor
	cfg    AgentConfig
	now    func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
}

type AgentInput struct {
	Message      string
	History      []domain.Turn
	ImportedFile *domain.ImportedFile
}

type AgentOutput struct {
	Response  string
	Usage     domain.Usage
	Model     string
	Elapsed   time.Duration
	ToolsUsed int
	Truncated bool
}

func NewAgentService(p ParamGetter, llm LLMClient, tools ToolExecutor, cfg AgentConfig) (*AgentService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if cfg.ToolsEnabled && tools == nil {
		return nil, errors.New("usecase: tool executor must not be nil when tools are enabled")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.FastModel == "" || cfg.ToolsModel == "" {
		return nil, errors.New("usecase: fast and tools models are required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLen
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &AgentService{
		params: p,
		llm:    llm,
		tools:  tools,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// Run answers one user message, letting the model call tools until it
// produces a final answer or the iteration cap is reached.
func (s *AgentService) Run(ctx context.Context, in AgentInput) (AgentOutput, error) {
	start := s.now()
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return AgentOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.cfg.MaxMessageLength {
		return AgentOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return AgentOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	useTools := s.cfg.ToolsEnabled
	model := s.cfg.FastModel
	if useTools || in.ImportedFile != nil {
		model = s.cfg.ToolsModel
	}
	req := domain.CompletionRequest{
		Model:     model,
		System:    buildSystemPrompt(s.persona, useTools),
		MaxTokens: s.cfg.MaxTokens,
		Messages:  buildMessages(in.History, s.cfg.HistoryWindow, message, in.ImportedFile),
	}
	if useTools {
		req.Tools = s.tools.Descriptors()
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("model", model).
		Bool("tools", useTools).
		Bool("imported_file", in.ImportedFile != nil).
		Int("history", len(req.Messages)-1).
		Msg("agent request")

	resp, err := s.complete(ctx, req)
	if err != nil {
		return AgentOutput{}, err
	}

	iterations := 0
	truncated := false
	for useTools && resp.StopReason == domain.StopToolUse {
		uses := resp.ToolUses()
		if len(uses) == 0 {
			break
		}
		if iterations >= s.cfg.MaxIterations {
			truncated = true
			log.Warn().Int("iterations", iterations).Msg("tool iteration cap reached")
			break
		}

		results := make([]domain.Block, 0, len(uses))
		for _, use := range uses {
			res := s.tools.Execute(ctx, use.Name, use.Input)
			ev := log.Info()
			if !res.Success {
				ev = log.Warn().Str("error", res.Error)
			}
			ev.Str("tool", use.Name).Str("tool_use_id", use.ID).Bool("success", res.Success).Msg("tool executed")
			results = append(results, domain.ToolResultBlock(use.ID, res.Content(), !res.Success))
		}

		req.Messages = append(req.Messages,
			domain.Turn{Role: domain.RoleAssistant, Content: resp.Content},
			domain.Turn{Role: domain.RoleUser, Content: results},
		)
		iterations++

		resp, err = s.complete(ctx, req)
		if err != nil {
			return AgentOutput{}, err
		}
	}

	elapsed := s.now().Sub(start)
	log.Info().
		Str("stop_reason", resp.StopReason).
		Int("tools_used", iterations).
		Bool("truncated", truncated).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Dur("elapsed", elapsed).
		Msg("agent response")

	return AgentOutput{
		Response:  resp.Text(),
		Usage:     resp.Usage,
		Model:     model,
		Elapsed:   elapsed,
		ToolsUsed: iterations,
		Truncated: truncated,
	}, nil
}

// complete performs one model round trip under the per-call deadline.
func (s *AgentService) complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if s.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ModelTimeout)
		defer cancel()
	}
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return domain.Completion{}, newError(ErrorRateLimited, "anthropic_rate_limited", err)
		}
		return domain.Completion{}, newError(ErrorUpstream, "anthropic_error", err)
	}
	return resp, nil
}

func (s *AgentService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, err := s.params.GetParameter(ctx, s.cfg.ParamPrefix+"/pinned_prompt")
	if err != nil {
		return fmt.Errorf("usecase: load pinned prompt: %w", err)
	}
	s.persona = persona
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
