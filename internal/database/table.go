package database

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Table is a typed repository over one store table. Every mutating call is
// durable before it returns success.
type Table[T any] struct {
	db *gorm.DB
}

// NewTable binds a repository to the provided database handle.
func NewTable[T any](db *gorm.DB) *Table[T] {
	return &Table[T]{db: db}
}

// ReadAll produces a lazy, finite, non-restartable sequence over the table's
// contents at call time. There is no snapshot isolation; rows observed
// reflect the store as the cursor advances.
func (t *Table[T]) ReadAll(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		rows, err := t.db.WithContext(ctx).Model(new(T)).Rows()
		if err != nil {
			yield(zero, storageFault("read_all", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var record T
			if err := t.db.ScanRows(rows, &record); err != nil {
				yield(zero, storageFault("read_all_scan", err))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, storageFault("read_all_cursor", err))
		}
	}
}

// ReadByID returns the record with the given identifier, or ErrNotFound.
func (t *Table[T]) ReadByID(ctx context.Context, id int64) (T, error) {
	var record T
	err := t.db.WithContext(ctx).Take(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return record, storageFault("read_by_id", err)
	}
	return record, nil
}

// Upsert inserts the record, or overwrites the existing row keyed by its
// identifier. A record with a zero identifier receives the next
// auto-incremented one, written back into the record.
func (t *Table[T]) Upsert(ctx context.Context, record *T) error {
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error
	if err != nil {
		return storageFault("upsert", err)
	}
	return nil
}

// DeleteWhere removes the 0..N rows whose column equals the given value and
// reports how many were removed.
func (t *Table[T]) DeleteWhere(ctx context.Context, column string, value any) (int64, error) {
	result := t.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", column), value).
		Delete(new(T))
	if result.Error != nil {
		return 0, storageFault("delete_where", result.Error)
	}
	return result.RowsAffected, nil
}

// CountWhere counts the rows matching every condition. A nil condition map
// counts the whole table; callers use this to decide whether the local cache
// has been populated yet.
func (t *Table[T]) CountWhere(ctx context.Context, conditions map[string]any) (int64, error) {
	query := t.db.WithContext(ctx).Model(new(T))
	if len(conditions) > 0 {
		query = query.Where(conditions)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, storageFault("count_where", err)
	}
	return count, nil
}
