package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sqlgate/internal/config"
	"sqlgate/internal/database"
	"sqlgate/internal/di"
	sqlinfra "sqlgate/internal/infrastructure/sql"
	"sqlgate/internal/infrastructure/xlsx"
)

func main() {
	var (
		configPath string
		seedPath   string
		opts       sqlinfra.SeedOptions
	)

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Run audit store migrations and optionally seed the governed store from a workbook",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := di.NewLogger(cfg)

			if cfg.Audit.Enabled {
				if err := migrateAudit(cfg, logger); err != nil {
					return err
				}
			} else {
				logger.Warn("Журнал аудита отключен, миграции пропущены")
			}

			if seedPath != "" {
				return seed(cmd.Context(), cfg, logger, seedPath, opts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	cmd.Flags().StringVar(&seedPath, "seed", "", "xlsx workbook to load; each sheet is a table, the first row holds column names")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "create missing tables before loading")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "delete existing rows of seeded tables first")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func migrateAudit(cfg config.Config, logger *logrus.Logger) error {
	db, err := database.NewDatabase(database.Config{
		Driver: cfg.Audit.Driver,
		DSN:    cfg.Audit.DSN,
		Debug:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to audit database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := database.AutoMigrate(db, logger); err != nil {
		return err
	}
	logger.Info("Migrations completed successfully")
	return nil
}

func seed(ctx context.Context, cfg config.Config, logger *logrus.Logger, path string, opts sqlinfra.SeedOptions) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer file.Close()

	sheets, err := xlsx.Read(file)
	if err != nil {
		return err
	}

	tables := tablesFromSheets(sheets, cfg.Seed.Tables)

	db, err := sqlinfra.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	started := time.Now()
	counts, err := db.Seed(ctx, tables, opts)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	names := make([]string, 0, len(counts))
	for table := range counts {
		names = append(names, table)
	}
	sort.Strings(names)
	for _, table := range names {
		logger.WithFields(logrus.Fields{"table": table, "rows": counts[table]}).Info("Строк в таблице после загрузки")
	}
	logger.WithField("duration", time.Since(started)).Info("Загрузка данных завершена")
	return nil
}

// tablesFromSheets maps each sheet to its target table. Sheet names are
// matched case-insensitively against names; unmapped sheets keep their name.
func tablesFromSheets(sheets []xlsx.Sheet, names map[string]string) []sqlinfra.Table {
	tables := make([]sqlinfra.Table, 0, len(sheets))
	for _, sheet := range sheets {
		name := strings.TrimSpace(sheet.Name)
		if target, ok := names[strings.ToLower(name)]; ok && target != "" {
			name = target
		}
		tables = append(tables, sqlinfra.Table{Name: name, Columns: sheet.Headers, Rows: sheet.Rows})
	}
	return tables
}
