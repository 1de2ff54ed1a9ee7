// Package directory loads the set of monitored extensions. The panel only
// tracks lines the directory names; everything else on the switch is an
// external party.
package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sebas/opdesk/internal/logger"
)

// rowQuerier is the minimal interface needed from a pgx pool for Load.
type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Connect opens the directory pool and verifies the database is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping directory: %w", err)
	}
	return pool, nil
}

// Load reads the monitored extensions as number to display name.
func Load(ctx context.Context, pool rowQuerier) (map[string]string, error) {
	rows, err := pool.Query(ctx, `SELECT number, display_name FROM extensions ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("query extensions: %w", err)
	}
	defer rows.Close()

	dir := make(map[string]string)
	for rows.Next() {
		var number, name string
		if err := rows.Scan(&number, &name); err != nil {
			return nil, fmt.Errorf("scan extension: %w", err)
		}
		dir[number] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read extensions: %w", err)
	}

	if len(dir) == 0 {
		logger.Warn("[Directory] No extensions found; panel will monitor nothing")
	} else {
		logger.Info("[Directory] Loaded extensions", "count", len(dir))
	}
	return dir, nil
}
