// Package testinfra provides test infrastructure for fundflow production
// validation: real MySQL and Redis connections, scripted collaborator
// worlds, rapid generators and cleanup utilities.
package testinfra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"fundflow"
	"fundflow/circuit/memory"
	"fundflow/event"
	idemstore "fundflow/idempotency/store"
	"fundflow/lock"
	lockredis "fundflow/lock/redis"
	"fundflow/store/mysql"
)

// TestConfig holds test configuration
type TestConfig struct {
	MySQLDSN         string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SignalTimeout    time.Duration
	SignalWaitBudget time.Duration
	ActivityTimeout  time.Duration
	LockTTL          time.Duration
}

// DefaultConfig returns default test configuration
func DefaultConfig() TestConfig {
	return TestConfig{
		MySQLDSN:         getEnvOrDefault("FUNDFLOW_TEST_MYSQL_DSN", "root:123456@tcp(localhost:3306)/fundflow_test?parseTime=true"),
		RedisAddr:        getEnvOrDefault("FUNDFLOW_TEST_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnvOrDefault("FUNDFLOW_TEST_REDIS_PASSWORD", ""),
		RedisDB:          0,
		SignalTimeout:    5 * time.Second,
		SignalWaitBudget: 5 * time.Second,
		ActivityTimeout:  2 * time.Second,
		LockTTL:          30 * time.Second,
	}
}

// EngineConfig converts the test configuration into an engine configuration.
func (cfg TestConfig) EngineConfig() fundflow.Config {
	ec := fundflow.DefaultConfig()
	ec.SignalTimeout = cfg.SignalTimeout
	ec.SignalWaitBudget = cfg.SignalWaitBudget
	ec.ActivityTimeout = cfg.ActivityTimeout
	ec.LockTTL = cfg.LockTTL
	ec.LockExtendPeriod = cfg.LockTTL / 3
	return ec
}

// TestInfrastructure provides test infrastructure with real MySQL and Redis
type TestInfrastructure struct {
	DB       *sql.DB
	Redis    *redis.Client
	Store    *mysql.MySQLStore
	Locker   lock.Locker
	EventBus event.EventBus
	Breaker  *memory.MemoryBreaker
	Config   TestConfig
	testID   string
}

// NewTestInfrastructure creates test infrastructure backed by real MySQL and
// Redis. It skips the test when either is not reachable.
func NewTestInfrastructure(t *testing.T) *TestInfrastructure {
	t.Helper()
	return NewTestInfrastructureWithConfig(t, DefaultConfig())
}

// NewTestInfrastructureWithConfig creates test infrastructure with custom config
func NewTestInfrastructureWithConfig(t *testing.T, cfg TestConfig) *TestInfrastructure {
	t.Helper()

	testID := fmt.Sprintf("test-%d", time.Now().UnixNano())

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		t.Skipf("Skipping test: MySQL connection failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("Skipping test: MySQL ping failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		t.Skipf("Skipping test: Redis ping failed: %v", err)
	}

	return &TestInfrastructure{
		DB:       db,
		Redis:    redisClient,
		Store:    mysql.New(db),
		Locker:   lockredis.NewRedisLocker(redisClient),
		EventBus: event.NewMemoryEventBus(),
		Breaker:  memory.NewMemoryBreaker(),
		Config:   cfg,
		testID:   testID,
	}
}

// NewEngine builds an engine on the real store and locker with the given
// collaborators.
func (ti *TestInfrastructure) NewEngine(collab fundflow.Collaborators) *fundflow.Engine {
	return fundflow.NewEngine(
		fundflow.WithEngineStore(ti.Store),
		fundflow.WithEngineLocker(ti.Locker),
		fundflow.WithEngineBreaker(ti.Breaker),
		fundflow.WithEngineEventBus(ti.EventBus),
		fundflow.WithEngineChecker(idemstore.New(ti.Store)),
		fundflow.WithEngineCollaborators(collab),
		fundflow.WithEngineConfig(ti.Config.EngineConfig()),
	)
}

// TestID returns the unique test identifier
func (ti *TestInfrastructure) TestID() string {
	return ti.testID
}

// AccountKey returns an account key carrying the test prefix so Cleanup can
// find every row this test created.
func (ti *TestInfrastructure) AccountKey(suffix string) string {
	return fmt.Sprintf("%s-%s", ti.testID, suffix)
}

// Cleanup deletes the instances, history, idempotency records and locks this
// test created, located through the test's account key prefix.
func (ti *TestInfrastructure) Cleanup(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	rows, err := ti.DB.QueryContext(ctx,
		"SELECT workflow_id FROM fundflow_instances WHERE account_key LIKE ?", ti.testID+"%")
	if err != nil {
		t.Logf("Warning: failed to list test instances: %v", err)
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		if _, err := ti.DB.ExecContext(ctx, "DELETE FROM fundflow_history WHERE workflow_id = ?", id); err != nil {
			t.Logf("Warning: failed to cleanup history for %s: %v", id, err)
		}
		if _, err := ti.DB.ExecContext(ctx, "DELETE FROM fundflow_idempotency WHERE idempotency_key LIKE ?", "%"+id+"%"); err != nil {
			t.Logf("Warning: failed to cleanup idempotency for %s: %v", id, err)
		}
	}
	if _, err := ti.DB.ExecContext(ctx, "DELETE FROM fundflow_instances WHERE account_key LIKE ?", ti.testID+"%"); err != nil {
		t.Logf("Warning: failed to cleanup instances: %v", err)
	}
	if _, err := ti.DB.ExecContext(ctx, "DELETE FROM fundflow_idempotency WHERE idempotency_key LIKE ?", "%"+ti.testID+"%"); err != nil {
		t.Logf("Warning: failed to cleanup idempotency records: %v", err)
	}

	keys, err := ti.Redis.Keys(ctx, "fundflow:lock:account:"+ti.testID+"*").Result()
	if err == nil && len(keys) > 0 {
		ti.Redis.Del(ctx, keys...)
	}
}

// Close closes all connections
func (ti *TestInfrastructure) Close() {
	if ti.DB != nil {
		ti.DB.Close()
	}
	if ti.Redis != nil {
		ti.Redis.Close()
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SkipIfNoInfrastructure skips the test if MySQL or Redis is not available
func SkipIfNoInfrastructure(t *testing.T) {
	t.Helper()
	cfg := DefaultConfig()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		t.Skipf("Skipping test: MySQL not available: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("Skipping test: MySQL not available: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
	}
}
