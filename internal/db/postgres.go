package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/config"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
)

type Postgres struct {
	Pool *pgxpool.Pool

	sqlx *sqlx.DB // database/sql поверх того же пула
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connstr: %w", err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	// numeric <-> decimal.Decimal на каждом новом соединении
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Connected to PostgreSQL")
	return wrap(dbPool), nil
}

func wrap(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		Pool: pool,
		sqlx: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
	}
}

// SQLX exposes the pool through database/sql for read-side queries. The
// handle is shared and closed by Close.
func (p *Postgres) SQLX() *sqlx.DB {
	return p.sqlx
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *Postgres) Close() {
	// сначала database/sql обертка, потом сам пул
	if p.sqlx != nil {
		if err := p.sqlx.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sqlx handle")
		}
		p.sqlx = nil
	}
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("Database connection closed")
	}
}
