package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	badgerdb "github.com/assetvault/custodyd/internal/infrastructure/db/badger"
	pgdb "github.com/assetvault/custodyd/internal/infrastructure/db/postgres"
	sqlitedb "github.com/assetvault/custodyd/internal/infrastructure/db/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	custodyRecordStoreTypes = map[string]func(...interface{}) (domain.CustodyRecordRepository, error){
		"sqlite":   sqlitedb.NewCustodyRecordRepository,
		"postgres": pgdb.NewCustodyRecordRepository,
	}
	vaultWalletStoreTypes = map[string]func(...interface{}) (domain.VaultWalletRepository, error){
		"sqlite":   sqlitedb.NewVaultWalletRepository,
		"postgres": pgdb.NewVaultWalletRepository,
	}
	operationStoreTypes = map[string]func(...interface{}) (domain.OperationRepository, error){
		"sqlite":   sqlitedb.NewOperationRepository,
		"postgres": pgdb.NewOperationRepository,
	}
	marketStoreTypes = map[string]func(...interface{}) (domain.MarketRepository, error){
		"sqlite":   sqlitedb.NewMarketRepository,
		"postgres": pgdb.NewMarketRepository,
	}
	auditStoreTypes = map[string]func(...interface{}) (domain.AuditRepository, error){
		"badger":   badgerdb.NewAuditRepository,
		"sqlite":   sqlitedb.NewAuditRepository,
		"postgres": pgdb.NewAuditRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

// ServiceConfig selects the backends of the repo manager.
// DataStoreConfig is {baseDir} for sqlite and {dsn, autoCreate} for postgres.
// AuditStoreConfig is {baseDir, badger.Logger} for badger and ignored for the sql
// backends when the audit store type equals the data store type, in which case
// the audit log lives in the same db.
type ServiceConfig struct {
	AuditStoreType string
	DataStoreType  string

	AuditStoreConfig []interface{}
	DataStoreConfig  []interface{}
}

type service struct {
	custodyRecordStore domain.CustodyRecordRepository
	vaultWalletStore   domain.VaultWalletRepository
	operationStore     domain.OperationRepository
	marketStore        domain.MarketRepository
	auditStore         domain.AuditRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	custodyRecordStoreFactory, ok := custodyRecordStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	vaultWalletStoreFactory := vaultWalletStoreTypes[config.DataStoreType]
	operationStoreFactory := operationStoreTypes[config.DataStoreType]
	marketStoreFactory := marketStoreTypes[config.DataStoreType]
	auditStoreFactory, ok := auditStoreTypes[config.AuditStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid audit store type: %s", config.AuditStoreType)
	}

	var db *sql.DB
	var err error
	switch config.DataStoreType {
	case "postgres":
		db, err = openPostgres(config.DataStoreConfig)
	case "sqlite":
		db, err = openSqlite(config.DataStoreConfig)
	}
	if err != nil {
		return nil, err
	}

	svc := &service{}
	var result *multierror.Error
	if svc.custodyRecordStore, err = custodyRecordStoreFactory(db); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to open custody record store: %w", err))
	}
	if svc.vaultWalletStore, err = vaultWalletStoreFactory(db); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to open vault wallet store: %w", err))
	}
	if svc.operationStore, err = operationStoreFactory(db); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to open operation store: %w", err))
	}
	if svc.marketStore, err = marketStoreFactory(db); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to open market store: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		_ = db.Close()
		return nil, err
	}

	switch {
	case config.AuditStoreType == config.DataStoreType:
		svc.auditStore, err = auditStoreFactory(db)
	case config.AuditStoreType == "badger":
		svc.auditStore, err = auditStoreFactory(config.AuditStoreConfig...)
	case config.AuditStoreType == "postgres":
		var auditDb *sql.DB
		if auditDb, err = openPostgres(config.AuditStoreConfig); err == nil {
			svc.auditStore, err = auditStoreFactory(auditDb)
		}
	case config.AuditStoreType == "sqlite":
		var auditDb *sql.DB
		if auditDb, err = openSqlite(config.AuditStoreConfig); err == nil {
			svc.auditStore, err = auditStoreFactory(auditDb)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	log.Debugf(
		"opened repo manager with %s data store and %s audit store",
		config.DataStoreType, config.AuditStoreType,
	)
	return svc, nil
}

func (s *service) CustodyRecords() domain.CustodyRecordRepository {
	return s.custodyRecordStore
}

func (s *service) VaultWallets() domain.VaultWalletRepository {
	return s.vaultWalletStore
}

func (s *service) Operations() domain.OperationRepository {
	return s.operationStore
}

func (s *service) Market() domain.MarketRepository {
	return s.marketStore
}

func (s *service) Audit() domain.AuditRepository {
	return s.auditStore
}

func (s *service) Close() {
	s.custodyRecordStore.Close()
	s.vaultWalletStore.Close()
	s.operationStore.Close()
	s.marketStore.Close()
	s.auditStore.Close()
}

func openPostgres(config []interface{}) (*sql.DB, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid data store config for postgres")
	}

	dsn, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DSN for postgres")
	}

	autoCreate, ok := config[1].(bool)
	if !ok {
		return nil, fmt.Errorf("invalid autocreate flag for postgres")
	}

	db, err := pgdb.OpenDb(dsn, autoCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %s", err)
	}

	pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
	}

	source, err := iofs.New(pgMigration, "postgres/migration")
	if err != nil {
		return nil, fmt.Errorf("failed to embed postgres migrations: %s", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run postgres migrations: %s", err)
	}

	return db, nil
}

func openSqlite(config []interface{}) (*sql.DB, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid data store config")
	}

	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}

	var dbFile string
	if baseDir != "" {
		dbFile = filepath.Join(baseDir, sqliteDbFile)
	}
	db, err := sqlitedb.OpenDb(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %s", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to init driver: %s", err)
	}

	source, err := iofs.New(migrations, "sqlite/migration")
	if err != nil {
		return nil, fmt.Errorf("failed to embed migrations: %s", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "custodydb", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %s", err)
	}

	return db, nil
}
