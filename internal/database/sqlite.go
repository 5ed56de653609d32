package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SchemaVersion is the current schema descriptor version. Bumping it routes
// existing stores through the recorded version-to-version transforms, or
// through the reopen-with-new-schema path when no transform chain applies.
const SchemaVersion = 1

// OpenSQLite establishes a SQLite connection and brings the schema to the
// current version. An incompatible stored schema is resolved by closing the
// handle and reopening with a fresh schema; ErrSchemaConflict is returned
// only when that reopen also fails.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := ensureSchema(db, SchemaVersion, logger); err != nil {
		if closeErr := closeHandle(db); closeErr != nil {
			return nil, fmt.Errorf("%w: %v (close failed: %v)", ErrSchemaConflict, err, closeErr)
		}
		db, err = reopenWithFreshSchema(path, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaConflict, err)
		}
	}

	if logger != nil {
		logger.Info("database initialized",
			zap.String("path", path),
			zap.Int("schema_version", SchemaVersion))
	}

	return db, nil
}

func open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func closeHandle(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func reopenWithFreshSchema(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := dropAllTables(db); err != nil {
		return nil, err
	}
	if err := migrateDomainTables(db); err != nil {
		return nil, err
	}
	if err := recordRevision(db, SchemaVersion); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Warn("database schema rebuilt",
			zap.String("path", path),
			zap.Int("schema_version", SchemaVersion))
	}

	return db, nil
}

// Destroy erases every table managed by this store. Test reset only.
func Destroy(db *gorm.DB) error {
	if err := dropAllTables(db); err != nil {
		return storageFault("destroy", err)
	}
	return nil
}
