//go:build integration

package containers

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"grc/internal/platform/database"
	"grc/internal/platform/logger"
	"grc/migrations"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresUser     = "grc"
	postgresPassword = "grc"
	primaryDatabase  = "grc"
	vendorDatabase   = "tprm"
)

// PostgresContainer is one server holding both logical databases, each
// migrated to the latest schema.
type PostgresContainer struct {
	Container testcontainers.Container
	Primary   *sqlx.DB
	Vendor    *sqlx.DB
}

func startPostgres(ctx context.Context) (*PostgresContainer, error) {
	container, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase(primaryDatabase),
		tcpostgres.WithUsername(postgresUser),
		tcpostgres.WithPassword(postgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*PostgresContainer, error) {
		_ = container.Terminate(ctx)
		return nil, err
	}

	primaryURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fail(err)
	}
	primary, err := sqlx.ConnectContext(ctx, "pgx", primaryURL)
	if err != nil {
		return fail(err)
	}
	if _, err := primary.ExecContext(ctx, "CREATE DATABASE "+vendorDatabase); err != nil {
		return fail(err)
	}
	vendorURL := strings.Replace(primaryURL, "/"+primaryDatabase+"?", "/"+vendorDatabase+"?", 1)
	vendor, err := sqlx.ConnectContext(ctx, "pgx", vendorURL)
	if err != nil {
		return fail(err)
	}

	if err := database.Migrate(primary, migrations.Primary, migrations.PrimaryDir, "schema_migrations", true); err != nil {
		return fail(err)
	}
	if err := database.Migrate(vendor, migrations.TPRM, migrations.TPRMDir, "schema_migrations", true); err != nil {
		return fail(err)
	}
	return &PostgresContainer{Container: container, Primary: primary, Vendor: vendor}, nil
}

// Router wraps both pools the way the server does.
func (p *PostgresContainer) Router() *database.Router {
	return database.NewRouter(p.Primary, p.Vendor, 3, 10*time.Second, logger.Discard())
}

// TruncateTables empties tables on db, restarting identities. Use between
// tests to ensure isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, db *sqlx.DB, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", ")))
	return err
}
