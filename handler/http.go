package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const maxBodyBytes = 10 << 20

// ServeHTTP adapts plain HTTP requests to the API Gateway handler so both
// deployments share one routing table.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Requisição muito grande"})
			return
		}
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: missingMessage})
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ",")
	}

	resp, err := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	})
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL_ERROR", Details: processingFailed})
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = io.WriteString(w, resp.Body)
	}
}
