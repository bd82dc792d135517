package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"stark-agent/handler"
	"stark-agent/internal/config"
	"stark-agent/internal/integrations/anthropic"
	"stark-agent/internal/integrations/paramstore"
	"stark-agent/internal/ledger"
	"stark-agent/internal/logger"
	"stark-agent/internal/repository"
	"stark-agent/internal/tools"
	"stark-agent/internal/usecase"
)

type store interface {
	ledger.Store
	Ping(ctx context.Context) error
}

// app holds the wired dependency graph shared by serve and lambda.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	handler *handler.Handler
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg)
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// AWS config is only needed when something talks to AWS.
	var awsCfg aws.Config
	if cfg.Store == config.StoreDynamoDB || !cfg.Local() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
	}

	params, err := newParams(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	st, err := newStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	baseline, err := newBaseline(cfg, params)
	if err != nil {
		return nil, err
	}

	svc, err := ledger.NewService(st, baseline)
	if err != nil {
		return nil, fmt.Errorf("create ledger service: %w", err)
	}
	executor := tools.NewExecutor(svc)

	llm, err := anthropic.NewClient(params, cfg.ParamPrefix, anthropic.WithBaseURL(cfg.AnthropicBaseURL))
	if err != nil {
		return nil, fmt.Errorf("create anthropic client: %w", err)
	}

	agent, err := usecase.NewAgentService(params, llm, executor, usecase.AgentConfig{
		ParamPrefix:      cfg.ParamPrefix,
		FastModel:        cfg.FastModel,
		ToolsModel:       cfg.ToolsModel,
		MaxTokens:        cfg.MaxTokens,
		ToolsEnabled:     cfg.ToolsEnabled,
		HistoryWindow:    cfg.HistoryWindow,
		MaxMessageLength: cfg.MaxMessageLength,
		MaxIterations:    cfg.MaxIterations,
		ModelTimeout:     cfg.ModelTimeout,
		RequestTimeout:   cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create agent service: %w", err)
	}

	h, err := handler.NewHandler(agent, st, handler.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create handler: %w", err)
	}

	log.Info().
		Str("store", cfg.Store).
		Bool("local_secrets", cfg.Local()).
		Bool("tools_enabled", cfg.ToolsEnabled).
		Msg("application wired")

	return &app{cfg: cfg, log: log, handler: h}, nil
}

// newParams returns SSM in the cloud, or a static map holding the API token
// and persona from the environment.
func newParams(cfg config.Config, awsCfg aws.Config) (paramstore.Getter, error) {
	if !cfg.Local() {
		client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		return client, nil
	}
	token, err := json.Marshal(map[string]string{"token": cfg.AnthropicAPIKey})
	if err != nil {
		return nil, fmt.Errorf("encode local token: %w", err)
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	return paramstore.Static{
		prefix + "/anthropic-token": string(token),
		prefix + "/pinned_prompt":   cfg.PersonaPrompt,
	}, nil
}

func newStore(cfg config.Config, awsCfg aws.Config) (store, error) {
	if cfg.Store == config.StoreMemory {
		return repository.NewMemory(), nil
	}
	ddb := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
	client, err := repository.New(ddb, cfg.LedgerTable)
	if err != nil {
		return nil, fmt.Errorf("create ledger store: %w", err)
	}
	return client, nil
}

func newBaseline(cfg config.Config, params paramstore.Getter) (ledger.Baseline, error) {
	if cfg.BaselineParam == "" || cfg.Local() {
		return ledger.DefaultBaseline(), nil
	}
	b, err := ledger.NewParamBaseline(params, cfg.BaselineParam)
	if err != nil {
		return nil, fmt.Errorf("create baseline: %w", err)
	}
	return b, nil
}
