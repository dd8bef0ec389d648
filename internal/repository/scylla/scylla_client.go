package scylla

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"portal-service/internal/config"
	"portal-service/internal/util"
)

//go:embed schema.cql
var schemaCQL string

// Statements holds the CQL used by the repositories. gocql prepares and
// caches each one on first use.
type Statements struct {
	CreateAccount        string
	GetAccount           string
	CreatePhoneToAccount string
	CreatePhoneByAccount string
	GetAccountsByPhone   string
	GetPhonesByAccount   string
	GetPhoneLink         string
	UpdatePhoneToAccount string
	UpdatePhoneByAccount string

	ClaimIdempotencyKey   string
	ReleaseIdempotencyKey string
	CreatePayment         string
	CreatePaymentByAcct   string
	CreatePaymentByPost   string
	GetPayment            string
	ListPayments          string
	ListPaymentsByAcct    string
	ListPaymentsByPost    string
	TransitionPayment     string
	UpdatePaymentByAcct   string
}

var statements = Statements{
	CreateAccount: `
        INSERT INTO accounts (
            account_bucket, account_id, account_number, original_account_number,
            debtor_name, address, city, state, zip_code, ssn_last4, date_of_birth,
            email, current_balance, original_creditor, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

	GetAccount: `
        SELECT account_bucket, account_id, account_number, original_account_number,
            debtor_name, address, city, state, zip_code, ssn_last4, date_of_birth,
            email, current_balance, original_creditor, status, created_at, updated_at
        FROM accounts WHERE account_bucket = ? AND account_id = ?`,

	CreatePhoneToAccount: `
        INSERT INTO phone_to_account (phone, account_id, phone_id, status, debtor_name, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,

	CreatePhoneByAccount: `
        INSERT INTO phones_by_account (account_id, phone, phone_id, status, debtor_name, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,

	GetAccountsByPhone: `
        SELECT account_id, debtor_name FROM phone_to_account WHERE phone = ?`,

	GetPhonesByAccount: `
        SELECT phone_id, account_id, phone, status, debtor_name, created_at, updated_at
        FROM phones_by_account WHERE account_id = ?`,

	GetPhoneLink: `
        SELECT phone_id FROM phones_by_account WHERE account_id = ? AND phone = ?`,

	UpdatePhoneToAccount: `
        UPDATE phone_to_account SET status = ?, updated_at = ? WHERE phone = ? AND account_id = ?`,

	UpdatePhoneByAccount: `
        UPDATE phones_by_account SET status = ?, updated_at = ? WHERE account_id = ? AND phone = ?`,

	ClaimIdempotencyKey: `
        INSERT INTO payment_claims (account_id, idempotency_key, payment_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,

	ReleaseIdempotencyKey: `
        DELETE FROM payment_claims WHERE account_id = ? AND idempotency_key = ? IF payment_id = ?`,

	CreatePayment: `
        INSERT INTO payments (
            payment_id, account_id, debtor_name, amount, payment_type, payment_date,
            post_date, monthly_payment, status, encrypted_details, idempotency_key,
            source, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

	CreatePaymentByAcct: `
        INSERT INTO payments_by_account (account_id, created_at, payment_id, status)
        VALUES (?, ?, ?, ?)`,

	CreatePaymentByPost: `
        INSERT INTO payments_by_post_date (post_day, payment_id) VALUES (?, ?)`,

	GetPayment: `
        SELECT payment_id, account_id, debtor_name, amount, payment_type, payment_date,
            post_date, monthly_payment, status, encrypted_details, idempotency_key,
            source, created_at, updated_at
        FROM payments WHERE payment_id = ?`,

	ListPayments: `
        SELECT payment_id, account_id, debtor_name, amount, payment_type, payment_date,
            post_date, monthly_payment, status, encrypted_details, idempotency_key,
            source, created_at, updated_at
        FROM payments`,

	ListPaymentsByAcct: `
        SELECT payment_id FROM payments_by_account WHERE account_id = ?`,

	ListPaymentsByPost: `
        SELECT payment_id FROM payments_by_post_date WHERE post_day = ?`,

	TransitionPayment: `
        UPDATE payments SET status = ?, updated_at = ? WHERE payment_id = ? IF status = ?`,

	UpdatePaymentByAcct: `
        UPDATE payments_by_account SET status = ? WHERE account_id = ? AND created_at = ? AND payment_id = ?`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements Statements
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			EnableHostVerification: !cfg.IsDevelopment(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: statements,
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// ApplySchema creates the portal tables in the session keyspace if they
// do not exist yet.
func (s *ScyllaClient) ApplySchema(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaCQL) {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	util.Info("ScyllaDB schema applied", zap.String("keyspace", s.config.Keyspace))
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

// ScanWithRetry retries transient failures; gocql.ErrNotFound is returned
// immediately.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil {
			return nil
		}
		if err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
