package docstore

import "context"

// Driver is a storage engine behind the Client. Implementations return *Error
// for every failure the caller can act on and must be safe for concurrent use.
type Driver interface {
	EnsureDatabase(ctx context.Context, id string) error
	EnsureContainer(ctx context.Context, database string, spec ContainerSpec) error
	// ReadContainer returns a 404 error when the container was never provisioned.
	ReadContainer(ctx context.Context, database, id string) (ContainerSpec, error)

	Create(ctx context.Context, ref ContainerRef, item Item) (Item, error)
	Read(ctx context.Context, ref ContainerRef, id, partitionKey string) (Item, error)
	// Replace writes item only while the stored version equals ifVersion.
	// It fails with 404 when the item is gone and 412 when the version moved.
	Replace(ctx context.Context, ref ContainerRef, item Item, ifVersion int64) (Item, error)
	// Upsert creates the item or overwrites it, keeping the original creation
	// time and bumping the stored version.
	Upsert(ctx context.Context, ref ContainerRef, item Item) (Item, error)
	Delete(ctx context.Context, ref ContainerRef, id, partitionKey string) error
	Query(ctx context.Context, ref ContainerRef, q Query) ([]Item, error)
	Count(ctx context.Context, ref ContainerRef, conds []Condition) (int64, error)
	// CreateBatch inserts every item or none of them.
	CreateBatch(ctx context.Context, ref ContainerRef, items []Item) ([]Item, error)

	Ping(ctx context.Context) error
	Close() error
}
