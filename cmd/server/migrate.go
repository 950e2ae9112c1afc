package main

import (
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"grc/internal/platform/config"
	"grc/internal/platform/database"
	"grc/internal/platform/logger"
	"grc/migrations"
)

const migrationsTable = "schema_migrations"

var migrateTarget string

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back one step of the embedded schema migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateTarget, "db", "all", "database to migrate: primary, tprm or all")
}

type migrationSet struct {
	name string
	db   func(*database.Router) *sqlx.DB
	fs   fs.FS
	dir  string
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Database.HasDatabase() {
		return fmt.Errorf("migrate needs PRIMARY_DATABASE_URL and TPRM_DATABASE_URL")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	sets := []migrationSet{
		{name: "primary", db: (*database.Router).Primary, fs: migrations.Primary, dir: migrations.PrimaryDir},
		{name: "tprm", db: (*database.Router).Vendor, fs: migrations.TPRM, dir: migrations.TPRMDir},
	}
	switch migrateTarget {
	case "all":
	case "primary":
		sets = sets[:1]
	case "tprm":
		sets = sets[1:]
	default:
		return fmt.Errorf("unknown --db %q", migrateTarget)
	}

	ctx := cmd.Context()
	router, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer router.Close()

	up := args[0] == "up"
	for _, s := range sets {
		if err := database.Migrate(s.db(router), s.fs, s.dir, migrationsTable, up); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		log.InfoContext(ctx, "migrations applied", "database", s.name, "direction", args[0])
	}
	return nil
}
