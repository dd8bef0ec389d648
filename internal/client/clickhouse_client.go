package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"portal-service/internal/config"
)

const (
	clickhouseNativePort       = "9000"
	clickhouseNativeSecurePort = "9440"
)

// ClickHouseClient is the funnel store behind analytics.ClickHouseTracker.
type ClickHouseClient struct {
	conn   driver.Conn
	logger *zap.Logger
}

// clickhouseEndpoint turns CLICKHOUSE_URL into a native-protocol address.
// https:// selects TLS and the secure native port when none is given.
func clickhouseEndpoint(raw string) (addr, host string, secure bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("invalid ClickHouse URL: %w", err)
	}
	host = u.Hostname()
	if host == "" {
		return "", "", false, fmt.Errorf("ClickHouse URL %q has no host", raw)
	}
	secure = u.Scheme == "https"
	port := u.Port()
	if port == "" {
		port = clickhouseNativePort
		if secure {
			port = clickhouseNativeSecurePort
		}
	}
	return net.JoinHostPort(host, port), host, secure, nil
}

func NewClickHouseClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse
	addr, host, secure, err := clickhouseEndpoint(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		Compression:     &ch.Compression{Method: ch.CompressionLZ4},
	}
	if secure || cfg.IsProduction() {
		var tlsConfig *tls.Config
		if tlsConfig, err = loadTLSConfig("ClickHouse", chConfig.CAFile, "", "", host); err != nil {
			return nil, err
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("address", addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil))
	return &ClickHouseClient{conn: conn, logger: logger}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *ClickHouseClient) QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// BatchInsert sends rows as one native block. A failed append aborts the
// batch so nothing partial is written.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		c.logger.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	return nil
}
