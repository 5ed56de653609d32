package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fernwood-labs/platefinder/internal/catalog"
)

type schemaRevision struct {
	Version          int   `gorm:"column:version;primaryKey"`
	AppliedAtSeconds int64 `gorm:"column:applied_at_s;not null"`
}

func (schemaRevision) TableName() string {
	return "schema_revisions"
}

// schemaTransform upgrades a store from one schema version to the next.
type schemaTransform struct {
	from  int
	to    int
	apply func(*gorm.DB) error
}

var schemaTransforms = []schemaTransform{
	{from: 0, to: 1, apply: migrateDomainTables},
}

func domainModels() []any {
	return []any{
		&catalog.Restaurant{},
		&catalog.Review{},
		&catalog.FavoriteRequest{},
		&catalog.ReviewRequest{},
	}
}

func migrateDomainTables(db *gorm.DB) error {
	return db.AutoMigrate(domainModels()...)
}

func dropAllTables(db *gorm.DB) error {
	models := append(domainModels(), &schemaRevision{})
	for _, model := range models {
		if err := db.Migrator().DropTable(model); err != nil {
			return err
		}
	}
	return nil
}

// ensureSchema walks the recorded schema version to the target through the
// registered transforms. A store recorded at a version beyond the target, or
// with a gap in the transform chain, reports errSchemaMismatch so the caller
// can take the reopen path.
func ensureSchema(db *gorm.DB, target int, logger *zap.Logger) error {
	if err := db.AutoMigrate(&schemaRevision{}); err != nil {
		return storageFault("migrate_schema_revisions", err)
	}

	current, err := currentRevision(db)
	if err != nil {
		return err
	}

	if current > target {
		return fmt.Errorf("%w: store at version %d, want %d", errSchemaMismatch, current, target)
	}

	if current == target {
		// Idempotent refresh so column additions within a version converge.
		if err := migrateDomainTables(db); err != nil {
			return storageFault("migrate_domain_tables", err)
		}
		return nil
	}

	for version := current; version < target; version++ {
		transform, ok := findTransform(version)
		if !ok {
			return fmt.Errorf("%w: no transform from version %d", errSchemaMismatch, version)
		}
		if err := transform.apply(db); err != nil {
			return storageFault(fmt.Sprintf("schema_transform_%d_to_%d", transform.from, transform.to), err)
		}
		if err := recordRevision(db, transform.to); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("schema transform applied",
				zap.Int("from", transform.from),
				zap.Int("to", transform.to))
		}
	}

	return nil
}

func currentRevision(db *gorm.DB) (int, error) {
	var revision schemaRevision
	err := db.Order("version DESC").Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storageFault("read_schema_revision", err)
	}
	return revision.Version, nil
}

func findTransform(from int) (schemaTransform, bool) {
	for _, transform := range schemaTransforms {
		if transform.from == from {
			return transform, true
		}
	}
	return schemaTransform{}, false
}

func recordRevision(db *gorm.DB, version int) error {
	record := schemaRevision{Version: version, AppliedAtSeconds: time.Now().UTC().Unix()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return storageFault("record_schema_revision", err)
	}
	return nil
}
