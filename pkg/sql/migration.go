package sql

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

const (
	migrationLock  = "perform_migration_lock"
	querySeparator = ";\n"

	migrationTableDDL = `
		CREATE TABLE IF NOT EXISTS migration (
			id text PRIMARY KEY
		)
	`
)

// Migrations is a directory of sql files, usually embedded.
type Migrations fs.ReadDirFS

// Migration applies the files of a directory in name order, each one once and in its own transaction.
type Migration struct {
	txClient   TxClient
	migrations Migrations
	logger     log.Logger
}

func NewMigration(txClient TxClient, migrations Migrations, logger log.Logger) *Migration {
	return &Migration{txClient, migrations, logger}
}

func (m *Migration) Execute(ctx context.Context) error {
	_, err := m.txClient.ExecContext(ctx, migrationTableDDL)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	migrationIDs, err := m.getFileNames()
	if err != nil {
		return fmt.Errorf("get migration file names: %w", err)
	}

	for _, migrationID := range migrationIDs {
		migrationSQL, err := m.readFile(migrationID)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migrationID, err)
		}

		err = m.performMigration(ctx, migrationID, migrationSQL)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration) getFileNames() ([]string, error) {
	entries, err := m.migrations.ReadDir(".")
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		result = append(result, entry.Name())
	}
	return result, nil
}

func (m *Migration) readFile(fileName string) (string, error) {
	content, err := fs.ReadFile(m.migrations, fileName)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (m *Migration) performMigration(ctx context.Context, migrationID, migrationSQL string) error {
	tx, err := m.txClient.Begin(ctx)
	if err != nil {
		return fmt.Errorf("start tx: %w", err)
	}

	performed, err := m.processMigration(ctx, tx, migrationID, migrationSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s failed: %w", migrationID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit migration %s: %w", migrationID, err)
	}

	if performed {
		m.logger.WithField("migrationID", migrationID).Info(ctx, "migration executed successfully")
	}
	return nil
}

// processMigration holds the migration lock until commit, concurrent workers wait and then see the migration as done.
func (m *Migration) processMigration(ctx context.Context, tx ClientTx, migrationID, migrationSQL string) (bool, error) {
	if strings.TrimSpace(migrationSQL) == "" {
		return false, errors.New("empty migration")
	}

	err := withTransactionLevelLock(ctx, migrationLock, tx)
	if err != nil {
		return false, err
	}

	var performed bool
	err = tx.GetContext(ctx, &performed, `SELECT EXISTS (SELECT 1 FROM migration WHERE id = $1)`, migrationID)
	if err != nil {
		return false, fmt.Errorf("check migration: %w", err)
	}
	if performed {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO migration VALUES ($1)`, migrationID)
	if err != nil {
		return false, fmt.Errorf("create migration record: %w", err)
	}

	for _, query := range splitToQueries(migrationSQL) {
		_, err = tx.ExecContext(ctx, query)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func splitToQueries(sql string) []string {
	queries := strings.Split(sql, querySeparator)
	result := make([]string, 0, len(queries))
	for _, query := range queries {
		if strings.TrimSpace(query) != "" {
			result = append(result, query)
		}
	}
	return result
}
