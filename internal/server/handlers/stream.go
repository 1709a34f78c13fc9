package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/internal/server/pubsub"
	"github.com/iudanet/decksync/internal/server/stream"
	"github.com/iudanet/decksync/internal/sse"
	"github.com/iudanet/decksync/pkg/api"
)

// wsWriteWait ограничивает время записи одного кадра WebSocket
const wsWriteWait = 10 * time.Second

// StreamHandler serves the live replication streams
type StreamHandler struct {
	logger     *slog.Logger
	catalog    *models.Catalog
	publishers *pubsub.Registry
	upgrader   websocket.Upgrader
	heartbeat  time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(logger *slog.Logger, catalog *models.Catalog, publishers *pubsub.Registry, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = stream.DefaultHeartbeat
	}
	return &StreamHandler{
		logger:     logger,
		catalog:    catalog,
		publishers: publishers,
		heartbeat:  heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Stream обрабатывает GET /api/v1/replication/stream
// Один SSE поток на соединение, в который мультиплексируются все сущности каталога
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		h.logger.ErrorContext(ctx, "SSE is not supported by response writer", slog.Any("error", err))
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Подписки живут ровно столько, сколько соединение: ctx отменяется при отключении клиента
	sources := make(map[string]<-chan api.Event)
	for _, entity := range h.catalog.Multiplexed() {
		p, err := h.publishers.Get(entity)
		if err != nil {
			h.logger.ErrorContext(ctx, "No publisher for multiplexed entity", "entity", entity, slog.Any("error", err))
			continue
		}
		sources[entity] = p.Subscribe(ctx, userID)
	}

	h.logger.InfoContext(ctx, "Live stream opened", "user_id", userID, "entities", len(sources))

	if err := stream.Serve(ctx, sw, stream.Merge(ctx, sources), h.heartbeat); err != nil {
		h.logger.WarnContext(ctx, "Live stream write failed", "user_id", userID, slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "Live stream closed", "user_id", userID)
}

// EntityStream обрабатывает GET /api/v1/replication/{entity}/ws
// Поток одной сущности поверх WebSocket: каждое сообщение - ChangeEvent или "RESYNC"
func (h *StreamHandler) EntityStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entity := r.PathValue("entity")
	p, err := h.publishers.Get(entity)
	if err != nil {
		http.Error(w, "Unknown entity", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Подписка должна существовать до ответа на upgrade: клиент начинает catch-up
	// сразу после dial, и запись между ними иначе не попадет ни в pull, ни в поток
	events := p.Subscribe(ctx, userID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже отправил ответ с ошибкой
		h.logger.Warn("failed to upgrade", "entity", entity, slog.Any("error", err))
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// Читаем входящие кадры только ради control-сообщений и обнаружения закрытия
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("Entity stream opened", "user_id", userID, "entity", entity)

	if err := h.pumpEvents(ctx, conn, events); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("Entity stream write failed", "user_id", userID, "entity", entity, slog.Any("error", err))
	}

	h.logger.Info("Entity stream closed", "user_id", userID, "entity", entity)
}

func (h *StreamHandler) pumpEvents(ctx context.Context, conn *websocket.Conn, events <-chan api.Event) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Подписку закрыл сервер (shutdown)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
			if err := conn.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		}
	}
}
