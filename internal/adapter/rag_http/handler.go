package rag_http

import (
	"log/slog"
	"net/http"
	"strings"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra/logger"
	"rag-dialog/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	msgBadAskRequest   = "Bad Request: 'data' and 'sessionId' fields are required."
	msgBadSessionID    = "Bad Request: 'sessionId' is required."
	msgInternalFailure = "Internal Server Error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionResponse carries a freshly minted session id.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Data      string `json:"data"`
	SessionID string `json:"sessionId"`
}

// SourceMetadata locates a source chunk in its document.
type SourceMetadata struct {
	DocumentID string `json:"documentId"`
	Source     string `json:"source,omitempty"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	TokenCount int    `json:"tokenCount"`
}

// SourceResponse is one ranked source as shown to the user.
type SourceResponse struct {
	Number     int            `json:"number"`
	Text       string         `json:"text"`
	Metadata   SourceMetadata `json:"metadata"`
	Similarity string         `json:"similarity"`
}

// AskResponse is the body of a successful POST /api/ask.
type AskResponse struct {
	Answer          string           `json:"answer"`
	Sources         []SourceResponse `json:"sources"`
	HasRelevantInfo bool             `json:"hasRelevantInfo"`
}

type Handler struct {
	askUsecase   usecase.AskUsecase
	history      domain.HistoryStore
	newSessionID func() string
	logger       *slog.Logger
}

func NewHandler(askUsecase usecase.AskUsecase, history domain.HistoryStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		askUsecase:   askUsecase,
		history:      history,
		newSessionID: uuid.NewString,
		logger:       log,
	}
}

// RegisterRoutes mounts the dialog API on e. validator may be nil.
func (h *Handler) RegisterRoutes(e *echo.Echo, validator *OpenAPIValidator) {
	var askMiddleware []echo.MiddlewareFunc
	if validator != nil {
		askMiddleware = append(askMiddleware,
			validator.Middleware(http.MethodPost, "/api/ask", msgBadAskRequest))
	}

	api := e.Group("/api")
	api.GET("/session", h.GetSession)
	api.POST("/ask", h.Ask, askMiddleware...)
	api.DELETE("/session/:sessionId", h.DeleteSession)
	e.GET("/openapi.yaml", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", OpenAPISpec())
	})
}

// Issue a new session id. Nothing is stored until the first question.
// (GET /api/session)
func (h *Handler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, SessionResponse{SessionID: h.newSessionID()})
}

// Answer one question within a session
// (POST /api/ask)
func (h *Handler) Ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgBadAskRequest})
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Data == "" || req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgBadAskRequest})
	}

	ctx := logger.WithSessionID(c.Request().Context(), req.SessionID)
	output, err := h.askUsecase.Execute(ctx, usecase.AskInput{
		SessionID: req.SessionID,
		Query:     req.Data,
	})
	if err != nil {
		if usecase.IsClientError(err) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgBadAskRequest})
		}
		h.logger.ErrorContext(ctx, "ask_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgInternalFailure})
	}

	return c.JSON(http.StatusOK, toAskResponse(output))
}

// Drop the stored history of a session
// (DELETE /api/session/:sessionId)
func (h *Handler) DeleteSession(c echo.Context) error {
	// Ask stores history under the trimmed id.
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgBadSessionID})
	}
	ctx := logger.WithSessionID(c.Request().Context(), sessionID)
	if err := h.history.Delete(ctx, sessionID); err != nil {
		h.logger.ErrorContext(ctx, "delete_session_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgInternalFailure})
	}
	return c.NoContent(http.StatusNoContent)
}

func toAskResponse(output *usecase.AskOutput) AskResponse {
	sources := make([]SourceResponse, 0, len(output.Sources))
	for _, s := range output.Sources {
		sources = append(sources, SourceResponse{
			Number: s.Number,
			Text:   s.Text,
			Metadata: SourceMetadata{
				DocumentID: s.DocumentID,
				Source:     s.Origin,
				StartIndex: s.Metadata.StartIndex,
				EndIndex:   s.Metadata.EndIndex,
				TokenCount: s.Metadata.TokenCount,
			},
			Similarity: s.FormattedSimilarity(),
		})
	}
	return AskResponse{
		Answer:          output.Answer,
		Sources:         sources,
		HasRelevantInfo: output.HasRelevantInfo,
	}
}
