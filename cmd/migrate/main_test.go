package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/internal/config"
	sqlinfra "sqlgate/internal/infrastructure/sql"
	"sqlgate/internal/infrastructure/xlsx"
)

func TestTablesFromSheets(t *testing.T) {
	sheets := []xlsx.Sheet{
		{Name: "vehicle_cards", Headers: []string{"card_id"}},
		{Name: "Damage_Detection", Headers: []string{"damage_id"}},
	}

	tables := tablesFromSheets(sheets, map[string]string{"damage_detection": "damage_detections"})

	require.Len(t, tables, 2)
	assert.Equal(t, "vehicle_cards", tables[0].Name)
	assert.Equal(t, "damage_detections", tables[1].Name)
	assert.Equal(t, []string{"damage_id"}, tables[1].Columns)
}

func TestSeedLoadsWorkbookIntoFreshStore(t *testing.T) {
	dir := t.TempDir()
	workbook := filepath.Join(dir, "inspections.xlsx")

	var buf bytes.Buffer
	require.NoError(t, xlsx.Write(&buf,
		xlsx.Sheet{
			Name:    "vehicle_cards",
			Headers: []string{"card_id", "vehicle_type", "manufacturer", "model", "manufacture_year", "created_at"},
			Rows:    [][]any{{1, "sedan", "Honda", "City", 2019, "2024-01-10"}},
		},
		xlsx.Sheet{
			Name:    "damage_detection",
			Headers: []string{"damage_id", "card_id", "panel_name", "damage_type", "severity", "confidence", "detected_at"},
			Rows: [][]any{
				{1, 1, "hood", "dent", "low", 0.8, "2024-01-11"},
				{2, 1, "door_left", "scratch", "medium", 0.7, "2024-01-11"},
			},
		},
	))
	require.NoError(t, os.WriteFile(workbook, buf.Bytes(), 0o644))

	cfg := config.Config{
		DB:   config.DB{Driver: "sqlite3", DSN: "file:" + filepath.Join(dir, "store.db")},
		Seed: config.Seed{Tables: map[string]string{"damage_detection": "damage_detections"}},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx := context.Background()
	require.NoError(t, seed(ctx, cfg, logger, workbook, sqlinfra.SeedOptions{Create: true, Replace: true}))

	db, err := sqlinfra.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM damage_detections").Scan(&n))
	assert.Equal(t, 2, n)
}
