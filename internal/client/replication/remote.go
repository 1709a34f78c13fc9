// Package replication keeps the local store of the client in sync with the
// server: pull catch-up, push with conflict handling and live streams.
package replication

import (
	"context"

	clientapi "github.com/iudanet/decksync/internal/client/api"
	"github.com/iudanet/decksync/pkg/api"
)

//go:generate moq -out remote_mock.go . Remote TaggedStream EntityStream

// Remote is the server side of replication as seen by the client
type Remote interface {
	Pull(ctx context.Context, accessToken, entity string, req api.PullRequest) (*api.PullResponse, error)
	Push(ctx context.Context, accessToken, entity string, req api.PushRequest) (*api.PushResponse, error)
	OpenStream(ctx context.Context, accessToken string) (TaggedStream, error)
	DialEntityStream(ctx context.Context, accessToken, entity string) (EntityStream, error)
}

// TaggedStream is the multiplexed live stream
type TaggedStream interface {
	Next() (api.TaggedEvent, error)
	Close() error
}

// EntityStream is the live stream of one entity
type EntityStream interface {
	Next() (api.Event, error)
	Close() error
}

// TokenSource returns the access token for the next request
type TokenSource func(ctx context.Context) (string, error)

// httpRemote адаптирует HTTP клиент к интерфейсу Remote
type httpRemote struct {
	*clientapi.Client
}

// NewRemote wraps the HTTP API client
func NewRemote(client *clientapi.Client) Remote {
	return httpRemote{Client: client}
}

func (r httpRemote) OpenStream(ctx context.Context, accessToken string) (TaggedStream, error) {
	stream, err := r.Client.OpenStream(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (r httpRemote) DialEntityStream(ctx context.Context, accessToken, entity string) (EntityStream, error) {
	stream, err := r.Client.DialEntityStream(ctx, accessToken, entity)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
