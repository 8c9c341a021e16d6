package store

import (
	"context"
	"math/rand/v2"
	"strconv"

	"github.com/adonese/bloog/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const counterShards = 20

// Counter is a named aggregate counter spread over shard rows so that
// concurrent increments rarely touch the same row. The total is cached under
// the counter name and kept current with conditional increments.
type Counter struct {
	Name  string
	store *Store
}

func (s *Store) Counter(name string) *Counter {
	return &Counter{Name: name, store: s}
}

func (c *Counter) Increment(ctx context.Context, delta int64) error {
	db, err := c.store.ensureDB(ctx)
	if err != nil {
		return err
	}
	if err := c.add(db, delta); err != nil {
		return dbError(err, "counter "+c.Name)
	}
	c.touch(ctx, delta)
	return nil
}

// add writes delta to a random shard inside tx. The cached total is left
// alone; call touch once the transaction commits.
func (c *Counter) add(tx *gorm.DB, delta int64) error {
	row := models.CounterShard{Name: c.Name, Shard: rand.IntN(counterShards), Count: delta}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "shard"}},
		DoUpdates: clause.Assignments(map[string]any{"count": gorm.Expr("counter_shards.count + ?", delta)}),
	}).Create(&row).Error
}

func (c *Counter) touch(ctx context.Context, delta int64) {
	c.store.Cache.Incr(ctx, c.Name, delta)
}

// Count returns the total, from the cache when present.
func (c *Counter) Count(ctx context.Context) (int64, error) {
	if b, ok := c.store.Cache.Get(ctx, c.Name); ok {
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n, nil
		}
	}
	db, err := c.store.ensureDB(ctx)
	if err != nil {
		return 0, err
	}
	total, err := c.sum(db)
	if err != nil {
		return 0, dbError(err, "counter "+c.Name)
	}
	// An increment that lands between the sum and this write already seeded
	// a newer total; keep it.
	c.store.Cache.SetIfAbsent(ctx, c.Name, []byte(strconv.FormatInt(total, 10)), c.store.ListTTL)
	return total, nil
}

func (c *Counter) sum(tx *gorm.DB) (int64, error) {
	var total int64
	err := tx.Model(&models.CounterShard{}).
		Where("name = ?", c.Name).
		Select("COALESCE(SUM(count), 0)").
		Scan(&total).Error
	return total, err
}

// Delete drops every shard and the cached total.
func (c *Counter) Delete(ctx context.Context) error {
	db, err := c.store.ensureDB(ctx)
	if err != nil {
		return err
	}
	if err := c.deleteTx(db); err != nil {
		return dbError(err, "counter "+c.Name)
	}
	c.store.Cache.Delete(ctx, c.Name)
	return nil
}

func (c *Counter) deleteTx(tx *gorm.DB) error {
	return tx.Where("name = ?", c.Name).Delete(&models.CounterShard{}).Error
}
