package mongo

import (
	"context"
	"fmt"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/amycare/telemetry-core/internal/infrastructure/config"
)

// Client wraps the MongoDB driver with the pool bounds and per-operation
// timeout the pipeline expects. A single Client is shared by the resolver,
// the writer, and the audit sink; the driver's pool handles concurrency.
type Client struct {
	client    *mongodriver.Client
	data      *mongodriver.Database
	audit     *mongodriver.Database
	opTimeout time.Duration
}

// Connect establishes a pooled connection to MongoDB and verifies it
// with a ping.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: Database configuration (URI, names, pool bounds, op timeout)
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the URI is invalid or the ping fails
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMinPoolSize(uint64(cfg.MinPoolSize)).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize))

	client, err := mongodriver.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetOpTimeout())
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}

	auditName := cfg.AuditName
	if auditName == "" {
		auditName = cfg.Name
	}

	return &Client{
		client:    client,
		data:      client.Database(cfg.Name),
		audit:     client.Database(auditName),
		opTimeout: cfg.GetOpTimeout(),
	}, nil
}

// OpCtx derives a context bounded by the configured per-operation timeout.
// Callers must invoke the returned cancel func.
func (c *Client) OpCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Data returns the primary database holding registries, snapshots, and history.
func (c *Client) Data() *mongodriver.Database {
	return c.data
}

// Audit returns the audit database.
func (c *Client) Audit() *mongodriver.Database {
	return c.audit
}

// Collection returns a named collection from the primary database.
func (c *Client) Collection(name string) *mongodriver.Collection {
	return c.data.Collection(name)
}

// Close disconnects from MongoDB, waiting up to the op timeout for
// in-flight operations.
func (c *Client) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.client.Disconnect(closeCtx); err != nil {
		return fmt.Errorf("disconnecting mongodb: %w", err)
	}
	return nil
}

// IsDuplicateKey reports whether err is a unique-index violation.
// The resolver relies on this to make citiz auto-provisioning idempotent
// under concurrent first-sight races.
func IsDuplicateKey(err error) bool {
	return mongodriver.IsDuplicateKeyError(err)
}

// IsTransient reports whether err is worth retrying: network failures
// and timeouts. Duplicate keys and other server-side rejections are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if mongodriver.IsDuplicateKeyError(err) {
		return false
	}
	return mongodriver.IsNetworkError(err) || mongodriver.IsTimeout(err)
}
