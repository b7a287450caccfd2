package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/masomo-proctor/core/session"
)

type violationRepository struct {
	db *violationTable
}

var _ session.Repository = (*violationRepository)(nil) // interface compliance check

func NewViolationRepository(db *DB) session.Repository {
	return &violationRepository{db: db.violation}
}

func (repo *violationRepository) SaveViolation(_ context.Context, rec session.Record) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	repo.db.table = append(repo.db.table, rec)
	return nil
}

func (repo *violationRepository) QueryViolations(_ context.Context, filter session.QueryFilter) ([]session.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	recs := make([]session.Record, 0)
	for _, rec := range repo.db.table {
		if filter.Match(rec) {
			recs = append(recs, rec)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].OccurredAt.Equal(recs[j].OccurredAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].OccurredAt.Before(recs[j].OccurredAt)
	})
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

func (repo *violationRepository) DeleteViolationsBefore(_ context.Context, before time.Time) (int64, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	kept := repo.db.table[:0]
	for _, rec := range repo.db.table {
		if !rec.OccurredAt.Before(before) {
			kept = append(kept, rec)
		}
	}
	n := int64(len(repo.db.table) - len(kept))
	repo.db.table = kept
	return n, nil
}
