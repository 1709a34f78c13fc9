package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/decksync/internal/sse"
	"github.com/iudanet/decksync/pkg/api"
)

// ErrUnauthorized возвращается, когда сервер отклонил access token
var ErrUnauthorized = errors.New("unauthorized")

// StatusError ответ сервера с кодом вне 2xx
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Is позволяет проверять 401 через errors.Is(err, ErrUnauthorized)
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	// streamClient без таймаута: потоки живут до отмены контекста
	streamClient *http.Client
	dialer       *websocket.Dialer
	baseURL      string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
		streamClient: &http.Client{},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func replicationPath(entity, op string) string {
	return "/api/v1/replication/" + url.PathEscape(entity) + "/" + op
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// Pull запрашивает следующую страницу изменений сущности после req.Checkpoint
func (c *Client) Pull(ctx context.Context, accessToken, entity string, req api.PullRequest) (*api.PullResponse, error) {
	var resp api.PullResponse
	if err := c.doRequest(ctx, http.MethodPost, replicationPath(entity, "pull"), accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("pull %s request failed: %w", entity, err)
	}
	return &resp, nil
}

// Push отправляет пакет локальных изменений и возвращает конфликты
func (c *Client) Push(ctx context.Context, accessToken, entity string, req api.PushRequest) (*api.PushResponse, error) {
	var resp api.PushResponse
	if err := c.doRequest(ctx, http.MethodPost, replicationPath(entity, "push"), accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("push %s request failed: %w", entity, err)
	}
	return &resp, nil
}

// BulkDelete помечает удаленными сразу много документов
func (c *Client) BulkDelete(ctx context.Context, accessToken, entity string, req api.BulkDeleteRequest) (*api.BulkDeleteResponse, error) {
	var resp api.BulkDeleteResponse
	if err := c.doRequest(ctx, http.MethodPost, replicationPath(entity, "bulk-delete"), accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("bulk delete %s request failed: %w", entity, err)
	}
	return &resp, nil
}

// EventStream мультиплексированный SSE поток событий
type EventStream struct {
	body   io.ReadCloser
	reader *sse.Reader
}

// Next блокируется до следующего события. Возвращает io.EOF, когда сервер закрыл поток.
func (s *EventStream) Next() (api.TaggedEvent, error) {
	payload, err := s.reader.Next()
	if err != nil {
		return api.TaggedEvent{}, err
	}

	var ev api.TaggedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return api.TaggedEvent{}, fmt.Errorf("failed to decode stream event: %w", err)
	}
	return ev, nil
}

// Close закрывает соединение
func (s *EventStream) Close() error {
	return s.body.Close()
}

// OpenStream открывает мультиплексированный поток всех сущностей.
// Когда метод вернулся, подписки на сервере уже действуют.
func (c *Client) OpenStream(ctx context.Context, accessToken string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/replication/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, statusError(resp.StatusCode, body)
	}

	return &EventStream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

// EntityStream поток одной сущности поверх WebSocket
type EntityStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Next блокируется до следующего события сущности
func (s *EntityStream) Next() (api.Event, error) {
	var ev api.Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return api.Event{}, io.EOF
		}
		return api.Event{}, fmt.Errorf("failed to read entity event: %w", err)
	}
	return ev, nil
}

// Close закрывает соединение
func (s *EntityStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// DialEntityStream открывает WebSocket поток сущности, не входящей в мультиплексированный поток
func (c *Client) DialEntityStream(ctx context.Context, accessToken, entity string) (*EntityStream, error) {
	u, err := url.Parse(c.baseURL + replicationPath(entity, "ws"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer func() {
				_ = resp.Body.Close()
			}()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			return nil, statusError(resp.StatusCode, body)
		}
		return nil, fmt.Errorf("failed to dial %s stream: %w", entity, err)
	}

	stream := &EntityStream{conn: conn, done: make(chan struct{})}
	// ctx влияет только на dial: чтение прерываем закрытием соединения
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stream.done:
		}
	}()

	return stream, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, respBody)
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func statusError(code int, body []byte) error {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &StatusError{StatusCode: code, Message: errResp.Message}
	}
	return &StatusError{StatusCode: code, Message: strings.TrimSpace(string(body))}
}
