package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/internal/server/replication"
	"github.com/iudanet/decksync/internal/validation"
	"github.com/iudanet/decksync/pkg/api"
)

// MaxRequestBodySize ограничивает размер тела запросов pull/push
const MaxRequestBodySize = 8 << 20

// ReplicationService определяет операции pull/push, которые обслуживает handler
type ReplicationService interface {
	Pull(ctx context.Context, userID, entity string, req api.PullRequest) (*api.PullResponse, error)
	Push(ctx context.Context, userID, entity string, req api.PushRequest) (*api.PushResponse, error)
	BulkDelete(ctx context.Context, userID, entity string, req api.BulkDeleteRequest) (*api.BulkDeleteResponse, error)
}

// ReplicationHandler handles pull, push and bulk delete requests
type ReplicationHandler struct {
	logger  *slog.Logger
	service ReplicationService
}

// NewReplicationHandler creates a new replication handler
func NewReplicationHandler(logger *slog.Logger, service ReplicationService) *ReplicationHandler {
	return &ReplicationHandler{
		logger:  logger,
		service: service,
	}
}

// Pull обрабатывает POST /api/v1/replication/{entity}/pull
// Возвращает следующую страницу изменений после переданного checkpoint
func (h *ReplicationHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, entity, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req api.PullRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Pull(ctx, userID, entity, req)
	if err != nil {
		h.sendServiceError(ctx, w, "pull", entity, userID, err)
		return
	}

	h.logger.DebugContext(ctx, "Pull completed",
		"user_id", userID,
		"entity", entity,
		"documents", len(resp.Documents))

	h.sendJSON(w, resp, http.StatusOK)
}

// Push обрабатывает POST /api/v1/replication/{entity}/push
// Применяет изменения клиента и возвращает конфликты
func (h *ReplicationHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, entity, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req api.PushRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Push(ctx, userID, entity, req)
	if err != nil {
		h.sendServiceError(ctx, w, "push", entity, userID, err)
		return
	}

	h.sendJSON(w, resp, http.StatusOK)
}

// BulkDelete обрабатывает POST /api/v1/replication/{entity}/bulk-delete
func (h *ReplicationHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, entity, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req api.BulkDeleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, id := range req.IDs {
		if err := validation.ValidateDocumentID(id); err != nil {
			h.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	resp, err := h.service.BulkDelete(ctx, userID, entity, req)
	if err != nil {
		h.sendServiceError(ctx, w, "bulk delete", entity, userID, err)
		return
	}

	h.sendJSON(w, resp, http.StatusOK)
}

// requestScope извлекает principal и тег сущности запроса
func (h *ReplicationHandler) requestScope(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	// Получаем user_id из контекста (установлен AuthMiddleware)
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return "", "", false
	}

	entity := r.PathValue("entity")
	if err := validation.ValidateEntityName(entity); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}

	return userID, entity, true
}

func (h *ReplicationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *ReplicationHandler) sendServiceError(ctx context.Context, w http.ResponseWriter, op, entity, userID string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "replication request failed",
			slog.String("op", op),
			slog.String("entity", entity),
			slog.String("user_id", userID),
			slog.Any("error", err))
		h.sendError(w, "internal server error", status)
		return
	}

	h.logger.WarnContext(ctx, "replication request rejected",
		slog.String("op", op),
		slog.String("entity", entity),
		slog.Any("error", err))
	h.sendError(w, err.Error(), status)
}

// statusForError сопоставляет ошибки сервиса с HTTP статусами
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, replication.ErrInvalidBatchSize),
		errors.Is(err, replication.ErrInvalidRequest),
		errors.Is(err, models.ErrInvalidDocument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendJSON отправляет JSON ответ
func (h *ReplicationHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func (h *ReplicationHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	h.sendJSON(w, resp, statusCode)
}
