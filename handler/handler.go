package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stark-agent/internal/buildinfo"
	"stark-agent/internal/domain"
	"stark-agent/internal/logger"
	"stark-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	serviceName       = "STARK CFO Virtual API"
	missingMessage    = "Mensagem não fornecida"
	processingFailed  = "Erro ao processar requisição"
)

var features = []string{"chat", "imported-file-analysis", "ledger-tools", "financial-summary"}

type Agent interface {
	Run(ctx context.Context, in usecase.AgentInput) (usecase.AgentOutput, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	agent  Agent
	pinger Pinger
	log    zerolog.Logger
	newID  func() string
}

type Option func(*Handler)

// WithLogger sets the base logger; request loggers derive from it.
func WithLogger(log zerolog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

func NewHandler(agent Agent, pinger Pinger, opts ...Option) (*Handler, error) {
	if agent == nil {
		return nil, errors.New("handler: agent must not be nil")
	}
	if pinger == nil {
		return nil, errors.New("handler: pinger must not be nil")
	}
	h := &Handler{
		agent:  agent,
		pinger: pinger,
		log:    zerolog.Nop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type agentRequest struct {
	Message             string               `json:"message"`
	ConversationHistory []domain.Turn        `json:"conversationHistory"`
	ImportedFile        *domain.ImportedFile `json:"importedFile"`
}

type agentResponse struct {
	Success   bool         `json:"success"`
	Response  string       `json:"response"`
	Usage     domain.Usage `json:"usage"`
	Model     string       `json:"model"`
	Elapsed   int64        `json:"elapsed"`
	ToolsUsed int          `json:"toolsUsed,omitempty"`
	Truncated bool         `json:"truncated,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type statusResponse struct {
	Status   string   `json:"status"`
	Service  string   `json:"service"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = h.newID()
	}
	log := h.log.With().Str("correlation_id", correlationID).Logger()
	ctx = logger.WithContext(ctx, log)

	path := strings.TrimSuffix(req.Path, "/")
	if path == "" {
		path = "/"
	}

	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodOptions:
		resp = events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	case path == "/agent" && req.HTTPMethod == http.MethodPost:
		resp = h.handleAgent(ctx, req.Body)
	case path == "/" && req.HTTPMethod == http.MethodGet:
		resp = jsonResponse(http.StatusOK, statusResponse{
			Status:   "online",
			Service:  serviceName,
			Version:  buildinfo.Version,
			Features: features,
		})
	case path == "/health" && req.HTTPMethod == http.MethodGet:
		resp = h.handleHealth(ctx)
	case path == "/agent" || path == "/" || path == "/health":
		resp = jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "Método não permitido"})
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "Rota não encontrada"})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	for k, v := range corsHeaders() {
		resp.Headers[k] = v
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

func (h *Handler) handleAgent(ctx context.Context, body string) events.APIGatewayProxyResponse {
	log := logger.FromContext(ctx)

	var req agentRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		log.Warn().Err(err).Msg("invalid request body")
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: missingMessage})
	}
	if strings.TrimSpace(req.Message) == "" {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: missingMessage})
	}

	out, err := h.agent.Run(ctx, usecase.AgentInput{
		Message:      req.Message,
		History:      req.ConversationHistory,
		ImportedFile: req.ImportedFile,
	})
	if err != nil {
		return h.errorResponse(ctx, err)
	}

	return jsonResponse(http.StatusOK, agentResponse{
		Success:   true,
		Response:  out.Response,
		Usage:     out.Usage,
		Model:     out.Model,
		Elapsed:   out.Elapsed.Milliseconds(),
		ToolsUsed: out.ToolsUsed,
		Truncated: out.Truncated,
	})
}

// errorResponse maps invalid input to 400 and any other failure to a 500
// carrying the raw error message.
func (h *Handler) errorResponse(ctx context.Context, err error) events.APIGatewayProxyResponse {
	log := logger.FromContext(ctx)

	var uErr *usecase.Error
	if errors.As(err, &uErr) && uErr.Code == usecase.ErrorInvalidInput {
		log.Warn().Str("reason", uErr.Reason).Msg("rejected agent request")
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: missingMessage})
	}

	ev := log.Error().Err(err)
	if uErr != nil {
		ev = ev.Str("code", string(uErr.Code)).Str("reason", uErr.Reason)
	}
	ev.Msg("agent request failed")
	return jsonResponse(http.StatusInternalServerError, errorResponse{
		Error:   err.Error(),
		Details: processingFailed,
	})
}

func (h *Handler) handleHealth(ctx context.Context) events.APIGatewayProxyResponse {
	if err := h.pinger.Ping(ctx); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("health check failed")
		return jsonResponse(http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: "disconnected"})
	}
	return jsonResponse(http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Correlation-Id",
		"Access-Control-Max-Age":       "3600",
	}
}

// headerValue looks a header up case-insensitively; API Gateway forwards
// whatever casing the client sent.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
