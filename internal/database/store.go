package database

import (
	"context"
)

// UpdateOp names the update operations supported by the document store.
type UpdateOp string

const (
	OpSet      UpdateOp = "set"
	OpAddToSet UpdateOp = "addToSet"
	OpPush     UpdateOp = "push"
)

// DocumentStore is the narrow contract the repository uses to talk to the
// backing document database. Filters and updates are plain maps so callers
// never depend on a driver type.
type DocumentStore interface {
	FindOne(ctx context.Context, collection string, filter map[string]any, out any) error
	FindAll(ctx context.Context, collection string, filter map[string]any, out any) error
	InsertOne(ctx context.Context, collection string, doc any) error
	UpdateOne(ctx context.Context, collection string, filter map[string]any, op UpdateOp, update map[string]any) error
	DeleteOne(ctx context.Context, collection string, filter map[string]any) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
