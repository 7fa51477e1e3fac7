// Package dbengine implements the relational object executor (C8), the
// named-query executor (C9) and the row decoder (C10): the part of the
// engine that actually talks to Postgres/MySQL/SQLite through sqlx.
package dbengine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goatkit/chimesgate/internal/config"
)

// PoolMetrics mirrors the gauges/counters the original
// internal/database/pool.go registers, but as label-carrying vectors keyed
// by namespace instead of promauto package-level singletons — the
// teacher's version would panic on a second call to NewConnectionPool,
// which this module does once per namespace.
type PoolMetrics struct {
	openConnections *prometheus.GaugeVec
	queryDuration   *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	transactions    *prometheus.CounterVec
}

// NewPoolMetrics registers the vectors against reg. Safe to call once per
// process; pass the same *PoolMetrics to every namespace's pool.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	m := &PoolMetrics{
		openConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chimesgate_db_pool_open_connections",
			Help: "Open connections per namespace pool.",
		}, []string{"namespace"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chimesgate_db_query_duration_seconds",
			Help:    "Query duration per namespace.",
			Buckets: prometheus.DefBuckets,
		}, []string{"namespace"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimesgate_db_query_errors_total",
			Help: "Query errors per namespace.",
		}, []string{"namespace"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimesgate_db_transactions_total",
			Help: "Transactions started per namespace.",
		}, []string{"namespace"}),
	}
	if reg != nil {
		reg.MustRegister(m.openConnections, m.queryDuration, m.queryErrors, m.transactions)
	}
	return m
}

// PoolManager lazily opens and caches one *sqlx.DB per namespace, keyed by
// namespace name, and reports its connection counts to PoolMetrics.
type PoolManager struct {
	mu      sync.Mutex
	dbs     map[string]*sqlx.DB
	metrics *PoolMetrics
}

// NewPoolManager builds an empty manager.
func NewPoolManager(metrics *PoolMetrics) *PoolManager {
	return &PoolManager{dbs: make(map[string]*sqlx.DB), metrics: metrics}
}

// Open returns the namespace's connection pool, opening and configuring it
// on first use.
func (pm *PoolManager) Open(ns *config.Namespace) (*sqlx.DB, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if db, ok := pm.dbs[ns.Name]; ok {
		return db, nil
	}

	driver, dsn, err := driverAndDSN(ns.DBURL)
	if err != nil {
		return nil, fmt.Errorf("dbengine: namespace %q: %w", ns.Name, err)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbengine: opening %q (%s): %w", ns.Name, driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbengine: pinging %q (%s): %w", ns.Name, driver, err)
	}

	if pm.metrics != nil {
		pm.metrics.openConnections.WithLabelValues(ns.Name).Set(float64(db.Stats().OpenConnections))
	}
	pm.dbs[ns.Name] = db
	return db, nil
}

// CloseAll closes every pool the manager has opened.
func (pm *PoolManager) CloseAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var firstErr error
	for name, db := range pm.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dbengine: closing pool %q: %w", name, err)
		}
	}
	pm.dbs = make(map[string]*sqlx.DB)
	return firstErr
}

// driverAndDSN picks a sqlx driver name from the namespace's db_url scheme
// and strips the scheme back into the DSN shape each driver expects.
func driverAndDSN(dbURL string) (string, string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("malformed db_url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return "postgres", dbURL, nil
	case "mysql":
		// lib go-sql-driver/mysql wants "user:pass@tcp(host:port)/db", not a
		// URL; accept "mysql://" as a convenience alias over that form.
		rest := strings.TrimPrefix(dbURL, u.Scheme+"://")
		return "mysql", rest, nil
	case "sqlite", "sqlite3":
		return "sqlite3", strings.TrimPrefix(dbURL, u.Scheme+"://"), nil
	default:
		return "", "", fmt.Errorf("unsupported db_url scheme %q", u.Scheme)
	}
}

// RebindFor rebinds a "?"-placeholdered query for db's actual bindvar
// style ("$1" for Postgres, "?" for MySQL/SQLite), replacing the
// teacher's hand-rolled sql_compat.go regex rewriting with sqlx's own
// Rebind — the idiomatic choice once sqlx is the chosen access library.
func RebindFor(db *sqlx.DB, query string) string {
	return db.Rebind(query)
}
