package docstore

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds every store request and the retries of throttled ones.
type RetryPolicy struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	MaxWait        time.Duration
}

// DefaultRetryPolicy mirrors the hosted store SDK defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  time.Second,
		MaxWait:        60 * time.Second,
	}
}

// WithDefaults replaces unset fields with DefaultRetryPolicy values.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = d.RequestTimeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = d.RetryInterval
	}
	if p.MaxWait <= 0 {
		p.MaxWait = d.MaxWait
	}
	return p
}

// Backoff is a constant interval bounded by MaxRetries and MaxWait.
func (p RetryPolicy) Backoff() retry.Backoff {
	b := retry.NewConstant(p.RetryInterval)
	b = retry.WithMaxRetries(uint64(p.MaxRetries), b)
	return retry.WithMaxDuration(p.MaxWait, b)
}

// Observer receives one call per store request attempt and one per retry.
type Observer interface {
	ObserveRequest(operation, container string, status int, elapsed time.Duration)
	ObserveRetry(operation, container string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int, time.Duration) {}
func (nopObserver) ObserveRetry(string, string)                       {}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p.WithDefaults() }
}

// WithObserver attaches request metrics.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// Client is the entry point to a store. It is safe for concurrent use.
type Client struct {
	driver   Driver
	policy   RetryPolicy
	observer Observer
	closed   atomic.Bool
}

// NewClient wraps driver.
func NewClient(driver Driver, opts ...ClientOption) *Client {
	c := &Client{
		driver:   driver,
		policy:   DefaultRetryPolicy(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy in effect.
func (c *Client) Policy() RetryPolicy { return c.policy }

// Ping verifies the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", "", func(ctx context.Context) error {
		return c.driver.Ping(ctx)
	})
}

// Close releases the driver. Calling it more than once is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.driver.Close()
}

// Database returns a handle without touching the store.
func (c *Client) Database(id string) *Database {
	return &Database{client: c, id: id}
}

// EnsureDatabase provisions the database if needed and returns its handle.
func (c *Client) EnsureDatabase(ctx context.Context, id string) (*Database, error) {
	if !ValidName(id) {
		return nil, NewError(StatusBadRequest, "invalid database id "+id, nil)
	}
	err := c.do(ctx, "ensureDatabase", id, func(ctx context.Context) error {
		return c.driver.EnsureDatabase(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return c.Database(id), nil
}

// do runs fn under the request timeout and retries throttled attempts.
func (c *Client) do(ctx context.Context, op, container string, fn func(context.Context) error) error {
	if c.closed.Load() {
		return ErrClosed
	}

	attempt := 0
	err := retry.Do(ctx, c.policy.Backoff(), func(ctx context.Context) error {
		if attempt > 0 {
			c.observer.ObserveRetry(op, container)
		}
		attempt++

		reqCtx, cancel := context.WithTimeout(ctx, c.policy.RequestTimeout)
		defer cancel()

		start := time.Now()
		err := FromContext(fn(reqCtx))
		c.observer.ObserveRequest(op, container, statusForMetrics(err), time.Since(start))

		if IsTransient(err) {
			slog.DebugContext(ctx, "store request throttled, retrying",
				"operation", op, "container", container, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && StatusOf(err) == 0 && errors.Is(err, context.DeadlineExceeded) {
		return FromContext(err)
	}
	return err
}

func statusForMetrics(err error) int {
	if err == nil {
		return 200
	}
	if code := StatusOf(err); code != 0 {
		return code
	}
	return StatusInternal
}

// Database is a handle to one database of the store.
type Database struct {
	client *Client
	id     string
}

// ID returns the database id.
func (d *Database) ID() string { return d.id }

// Container returns a handle without touching the store. The partition key
// path defaults until the handle is resolved with EnsureContainer or ReadContainer.
func (d *Database) Container(id string) *Container {
	return &Container{
		client: d.client,
		ref:    ContainerRef{Database: d.id, Container: id},
		spec:   ContainerSpec{ID: id}.WithDefaults(),
	}
}

// EnsureContainer provisions the container with its partition key and unique keys.
func (d *Database) EnsureContainer(ctx context.Context, spec ContainerSpec) (*Container, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, NewError(StatusBadRequest, err.Error(), err)
	}
	err := d.client.do(ctx, "ensureContainer", spec.ID, func(ctx context.Context) error {
		return d.client.driver.EnsureContainer(ctx, d.id, spec)
	})
	if err != nil {
		return nil, err
	}
	return &Container{client: d.client, ref: ContainerRef{Database: d.id, Container: spec.ID}, spec: spec}, nil
}

// ReadContainer resolves an existing container.
func (d *Database) ReadContainer(ctx context.Context, id string) (*Container, error) {
	var spec ContainerSpec
	err := d.client.do(ctx, "readContainer", id, func(ctx context.Context) error {
		var err error
		spec, err = d.client.driver.ReadContainer(ctx, d.id, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Container{client: d.client, ref: ContainerRef{Database: d.id, Container: id}, spec: spec.WithDefaults()}, nil
}

// Container is a handle to a container. All item operations go through it.
type Container struct {
	client *Client
	ref    ContainerRef
	spec   ContainerSpec
}

// Ref returns the container address.
func (c *Container) Ref() ContainerRef { return c.ref }

// Spec returns the container definition.
func (c *Container) Spec() ContainerSpec { return c.spec }

func (c *Container) Create(ctx context.Context, item Item) (Item, error) {
	var out Item
	err := c.client.do(ctx, "create", c.ref.Container, func(ctx context.Context) error {
		var err error
		out, err = c.client.driver.Create(ctx, c.ref, item)
		return err
	})
	return out, err
}

func (c *Container) Read(ctx context.Context, id, partitionKey string) (Item, error) {
	var out Item
	err := c.client.do(ctx, "read", c.ref.Container, func(ctx context.Context) error {
		var err error
		out, err = c.client.driver.Read(ctx, c.ref, id, partitionKey)
		return err
	})
	return out, err
}

func (c *Container) Replace(ctx context.Context, item Item, ifVersion int64) (Item, error) {
	var out Item
	err := c.client.do(ctx, "replace", c.ref.Container, func(ctx context.Context) error {
		var err error
		out, err = c.client.driver.Replace(ctx, c.ref, item, ifVersion)
		return err
	})
	return out, err
}

func (c *Container) Upsert(ctx context.Context, item Item) (Item, error) {
	var out Item
	err := c.client.do(ctx, "upsert", c.ref.Container, func(ctx context.Context) error {
		var err error
		out, err = c.client.driver.Upsert(ctx, c.ref, item)
		return err
	})
	return out, err
}

func (c *Container) Delete(ctx context.Context, id, partitionKey string) error {
	return c.client.do(ctx, "delete", c.ref.Container, func(ctx context.Context) error {
		return c.client.driver.Delete(ctx, c.ref, id, partitionKey)
	})
}

func (c *Container) Query(ctx context.Context, q Query) ([]Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out []Item
	err := c.client.do(ctx, "query", c.ref.Container, func(ctx context.Context) error {
		var err error
		out, err = c.client.driver.Query(ctx, c.ref, q)
		return err
	})
	return out, err
}

func (c *Container) Count(ctx context.Context, conds []Condition) (int64, error) {
	if err := ValidateConditions(conds); err != nil {
		return 0, err
	}
	var n int64
	err := c.client.do(ctx, "count", c.ref.Container, func(ctx context.Context) error {
		var err error
		n, err = c.client.driver.Count(ctx, c.ref, conds)
		return err
	})
	return n, err
}

func (c *Container) CreateBatch(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return []Item{}, nil
	}
	var out []Item
	err := c.client.do(ctx, "createBatch", c.ref.Container, func(ctx context.Context) error {
		var err error
		out, err = c.client.driver.CreateBatch(ctx, c.ref, items)
		return err
	})
	return out, err
}
