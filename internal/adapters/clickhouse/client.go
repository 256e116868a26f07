package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"chainintel/internal/adapters/config"
	"chainintel/pkg/errors"
	"chainintel/pkg/retry"
)

// Client holds the analytics connection used by the risk report sink
type Client struct {
	conn driver.Conn
}

// NewClient opens the connection and waits for the server to answer a ping.
// Writes are small batches from a single writer, so the pool stays small.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open clickhouse")
	}

	if err := retry.Do(ctx, retry.Fixed(3, time.Second), conn.Ping); err != nil {
		_ = conn.Close()
		return nil, errors.Mark(errors.Wrap(err, "failed to ping clickhouse"), errors.ErrUnavailable)
	}

	return &Client{conn: conn}, nil
}

// Conn returns the driver connection for repositories
func (c *Client) Conn() driver.Conn {
	return c.conn
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Health is used by the readiness check
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec runs a statement that returns no rows
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}
