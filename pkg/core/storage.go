package core

import (
	"context"
)

// LocalStore is durable local key/value storage. Get returns nil, nil for a
// missing key. Only single-key atomicity is required.
type LocalStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// DocumentService is the remote document store.
type DocumentService interface {
	CreateDocument(ctx context.Context, fields *Fields) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocument(ctx context.Context, id string, req UpdateRequest) (*Document, error)
	SubmitDocument(ctx context.Context, id string) (string, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, opts ListOptions) (*DocumentList, error)
}

// JobService is the remote job-execution service.
type JobService interface {
	GetJob(ctx context.Context, id string) (*JobUpdate, error)
	CancelJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string) error
}

// PushSource delivers out-of-band job updates. The returned channel is closed
// once ctx is done; reconnecting is the source's concern.
type PushSource interface {
	Subscribe(ctx context.Context, jobID string) (<-chan JobUpdate, error)
}

// TokenProvider supplies the bearer credential. An empty token means no
// credential is available.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenRefresher is implemented by providers that can mint a fresh token
// after the server rejected the current one.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
