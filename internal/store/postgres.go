package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"tradekernel/internal/domain"
)

// PostgresConfig holds database connection settings. Disabled by default:
// durability requires explicit configuration.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultPostgresConfig returns reasonable connection defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// PostgresProfiles is the ProfileStore backed by PostgreSQL.
//
// Schema:
//
//	CREATE TABLE strategy_profiles (
//	    name               TEXT PRIMARY KEY,
//	    parameters         JSONB NOT NULL,
//	    regime_affinity    TEXT NOT NULL,
//	    rolling_win_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    rolling_pnl        DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    max_drawdown       DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    adaptation_version BIGINT NOT NULL,
//	    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresProfiles struct {
	db      *sqlx.DB
	timeout time.Duration
}

// OpenPostgresProfiles connects and verifies the database.
func OpenPostgresProfiles(cfg PostgresConfig) (*PostgresProfiles, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return NewPostgresProfiles(db, cfg.QueryTimeout), nil
}

// NewPostgresProfiles wraps an existing connection, used by tests.
func NewPostgresProfiles(db *sqlx.DB, timeout time.Duration) *PostgresProfiles {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgresProfiles{db: db, timeout: timeout}
}

type profileRow struct {
	Name              string  `db:"name"`
	Parameters        []byte  `db:"parameters"`
	RegimeAffinity    string  `db:"regime_affinity"`
	RollingWinRate    float64 `db:"rolling_win_rate"`
	RollingPnL        float64 `db:"rolling_pnl"`
	MaxDrawdown       float64 `db:"max_drawdown"`
	AdaptationVersion int64   `db:"adaptation_version"`
}

func (r profileRow) toDomain() (domain.StrategyProfile, error) {
	params := make(map[string]float64)
	if len(r.Parameters) > 0 {
		if err := json.Unmarshal(r.Parameters, &params); err != nil {
			return domain.StrategyProfile{}, fmt.Errorf("corrupt parameters for %s: %w", r.Name, err)
		}
	}
	return domain.StrategyProfile{
		Name:              r.Name,
		Parameters:        params,
		RegimeAffinity:    domain.Regime(r.RegimeAffinity),
		RollingWinRate:    r.RollingWinRate,
		RollingPnL:        r.RollingPnL,
		MaxDrawdown:       r.MaxDrawdown,
		AdaptationVersion: r.AdaptationVersion,
	}, nil
}

// Get returns the named profile.
func (p *PostgresProfiles) Get(ctx context.Context, name string) (domain.StrategyProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var row profileRow
	query := `SELECT name, parameters, regime_affinity, rolling_win_rate,
	                 rolling_pnl, max_drawdown, adaptation_version
	          FROM strategy_profiles WHERE name = $1`
	if err := p.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StrategyProfile{}, fmt.Errorf("%w: strategy %q", domain.ErrNotFound, name)
		}
		return domain.StrategyProfile{}, fmt.Errorf("failed to load profile %s: %w", name, err)
	}
	return row.toDomain()
}

// All returns every stored profile ordered by name.
func (p *PostgresProfiles) All(ctx context.Context) ([]domain.StrategyProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var rows []profileRow
	query := `SELECT name, parameters, regime_affinity, rolling_win_rate,
	                 rolling_pnl, max_drawdown, adaptation_version
	          FROM strategy_profiles ORDER BY name`
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	out := make([]domain.StrategyProfile, 0, len(rows))
	for _, r := range rows {
		profile, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	return out, nil
}

// Save upserts a profile. The WHERE clause on the conflict update enforces
// the strictly-increasing adaptation version at the database level.
func (p *PostgresProfiles) Save(ctx context.Context, profile domain.StrategyProfile) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params, err := json.Marshal(profile.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO strategy_profiles
		(name, parameters, regime_affinity, rolling_win_rate, rolling_pnl,
		 max_drawdown, adaptation_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (name) DO UPDATE SET
			parameters = EXCLUDED.parameters,
			regime_affinity = EXCLUDED.regime_affinity,
			rolling_win_rate = EXCLUDED.rolling_win_rate,
			rolling_pnl = EXCLUDED.rolling_pnl,
			max_drawdown = EXCLUDED.max_drawdown,
			adaptation_version = EXCLUDED.adaptation_version,
			updated_at = now()
		WHERE strategy_profiles.adaptation_version < EXCLUDED.adaptation_version`

	res, err := p.db.ExecContext(ctx, query,
		profile.Name, params, string(profile.RegimeAffinity),
		profile.RollingWinRate, profile.RollingPnL, profile.MaxDrawdown,
		profile.AdaptationVersion)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.Name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check save result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s version %d", ErrStaleProfile, profile.Name, profile.AdaptationVersion)
	}
	return nil
}
