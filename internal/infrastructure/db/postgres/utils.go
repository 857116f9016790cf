package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/infrastructure/db/postgres/sqlc/queries"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	driverName = "postgres"
	maxRetries = 5
)

// OpenDb opens the postgres db of the dsn, both url (postgres://) and keyword
// (dbname=... user=...) forms are accepted. With autoCreate a missing database is
// created before connecting again.
func OpenDb(dsn string, autoCreate bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for attempt := 0; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if !autoCreate || attempt > 0 || !isMissingDatabase(err) {
			_ = db.Close()
			return nil, fmt.Errorf("unable to establish connection with db: %w", err)
		}
		if err := createDb(ctx, dsn); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create db: %w", err)
		}
	}
}

func isMissingDatabase(err error) bool {
	var dbErr *pq.Error
	// 3D000: invalid_catalog_name.
	return errors.As(err, &dbErr) && dbErr.Code == "3D000"
}

// createDb connects to the server's default database and creates the one named
// in the dsn.
func createDb(ctx context.Context, dsn string) error {
	dbName, rootDsn, err := splitDbName(dsn)
	if err != nil {
		return err
	}

	rootDb, err := sql.Open(driverName, rootDsn)
	if err != nil {
		return err
	}
	// nolint
	defer rootDb.Close()

	log.WithField("db", dbName).Info("postgres database does not exist, creating it")
	_, err = rootDb.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName))
	return err
}

// splitDbName returns the database name of the dsn and the dsn without it.
func splitDbName(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("invalid postgres url: %w", err)
		}
		dbName := strings.TrimPrefix(u.Path, "/")
		if dbName == "" {
			return "", "", fmt.Errorf("missing database name in postgres url")
		}
		u.Path = ""
		return dbName, u.String(), nil
	}

	var dbName string
	rest := make([]string, 0)
	for _, kv := range strings.Fields(dsn) {
		if name, ok := strings.CutPrefix(kv, "dbname="); ok {
			dbName = strings.Trim(name, "'")
			continue
		}
		rest = append(rest, kv)
	}
	if dbName == "" {
		return "", "", fmt.Errorf("missing dbname in postgres dsn")
	}
	return dbName, strings.Join(rest, " "), nil
}

func execTx(
	ctx context.Context, db *sql.DB, txBody func(*queries.Queries) error,
) error {
	var lastErr error
	for range maxRetries {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		qtx := queries.New(db).WithTx(tx)

		if err := txBody(qtx); err != nil {
			//nolint:all
			tx.Rollback()

			if isConflictError(err) {
				lastErr = err
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isConflictError(err) {
				lastErr = err
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}

	return lastErr
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}

	var dbErr *pq.Error
	if errors.As(err, &dbErr) {
		// 40001: serialization_failure, 40P01: deadlock_detected.
		return dbErr.Code == "40001" || dbErr.Code == "40P01"
	}
	return false
}

// mapInsertError turns the violations of the custody invariants enforced by the
// schema into their domain errors.
func mapInsertError(err error) error {
	var dbErr *pq.Error
	// 23505: unique_violation.
	if !errors.As(err, &dbErr) || dbErr.Code != "23505" {
		return err
	}
	switch dbErr.Constraint {
	case "custody_record_asset_id_key":
		return domain.ErrDuplicateAsset
	case "idx_operation_live":
		return domain.ErrLiveOperationExists
	default:
		return err
	}
}
