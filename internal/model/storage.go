package model

import "context"

// Backend is a remote blob store addressed by identifiers it assigns itself.
type Backend interface {
	// Name is the registration name, e.g. "dpaste".
	Name() string
	// BaseURL identifies the remote service for humans and liveness pings.
	BaseURL() string
	// Store writes content and returns the identifier assigned by the service.
	Store(ctx context.Context, content []byte, title string) (string, error)
	// Fetch returns the raw content stored under id.
	Fetch(ctx context.Context, id string) ([]byte, error)
	// Delete removes id. Services without delete support return false and no error.
	Delete(ctx context.Context, id string) (bool, error)
}

// Pinger is implemented by backends that know how to check their own liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexPointerStore remembers which remote blob holds the latest index snapshot.
type IndexPointerStore interface {
	// GetPointer returns the remote id saved under name, or "" when none is known.
	GetPointer(ctx context.Context, name string) (string, error)
	SetPointer(ctx context.Context, name, remoteID string) error
}
