package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/session"
)

type violationRow struct {
	ID          string       `db:"id"`
	SessionID   string       `db:"session_id"`
	QuizID      string       `db:"quiz_id"`
	StudentID   string       `db:"student_id"`
	Type        string       `db:"violation_type"`
	Severity    string       `db:"severity"`
	Description string       `db:"description"`
	UserAgent   string       `db:"user_agent"`
	Device      string       `db:"device"`
	CanContinue null.Bool    `db:"can_continue"`
	Distance    null.Float64 `db:"distance"`
	OccurredAt  time.Time    `db:"occurred_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func toRow(rec session.Record) violationRow {
	return violationRow{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		QuizID:      rec.QuizID,
		StudentID:   rec.StudentID,
		Type:        string(rec.Type),
		Severity:    string(rec.Severity),
		Description: rec.Description,
		UserAgent:   rec.UserAgent,
		Device:      rec.Device,
		CanContinue: null.BoolFromPtr(rec.CanContinue),
		Distance:    null.Float64FromPtr(rec.Distance),
		OccurredAt:  rec.OccurredAt.UTC(),
		CreatedAt:   rec.CreatedAt.UTC(),
	}
}

func (row violationRow) record() session.Record {
	return session.Record{
		ID:          row.ID,
		SessionID:   row.SessionID,
		QuizID:      row.QuizID,
		StudentID:   row.StudentID,
		Type:        integrity.ViolationType(row.Type),
		Severity:    integrity.Severity(row.Severity),
		Description: row.Description,
		UserAgent:   row.UserAgent,
		Device:      row.Device,
		CanContinue: row.CanContinue.Ptr(),
		Distance:    row.Distance.Ptr(),
		OccurredAt:  row.OccurredAt.UTC(),
		CreatedAt:   row.CreatedAt.UTC(),
	}
}

type violationRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*violationRepository)(nil) // interface compliance check

func NewViolationRepository(db *sqlx.DB) session.Repository {
	return &violationRepository{db: db}
}

const insertViolation = `INSERT INTO violation (
	id, session_id, quiz_id, student_id, violation_type, severity, description,
	user_agent, device, can_continue, distance, occurred_at, created_at
) VALUES (
	:id, :session_id, :quiz_id, :student_id, :violation_type, :severity, :description,
	:user_agent, :device, :can_continue, :distance, :occurred_at, :created_at
)`

func (repo *violationRepository) SaveViolation(ctx context.Context, rec session.Record) error {
	if _, err := repo.db.NamedExecContext(ctx, insertViolation, toRow(rec)); err != nil {
		return errors.Wrap(err, "inserting violation")
	}
	return nil
}

func (repo *violationRepository) QueryViolations(ctx context.Context, filter session.QueryFilter) ([]session.Record, error) {
	q, args := filterQuery(filter)
	rows := make([]violationRow, 0)
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying violations")
	}

	recs := make([]session.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.record())
	}
	return recs, nil
}

func (repo *violationRepository) DeleteViolationsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM violation WHERE occurred_at < $1", before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "deleting violations")
	}
	return res.RowsAffected()
}

// filterQuery builds the SELECT matching every set field of the filter.
func filterQuery(filter session.QueryFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	where := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.SessionID != "" {
		where("session_id = $%d", filter.SessionID)
	}
	if filter.StudentID != "" {
		where("student_id = $%d", filter.StudentID)
	}
	if filter.QuizID != "" {
		where("quiz_id = $%d", filter.QuizID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		where("violation_type = ANY($%d)", pq.Array(types))
	}
	if len(filter.Severities) > 0 {
		sevs := make([]string, 0, len(filter.Severities))
		for _, s := range filter.Severities {
			sevs = append(sevs, string(s))
		}
		where("severity = ANY($%d)", pq.Array(sevs))
	}
	if !filter.From.IsZero() {
		where("occurred_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where("occurred_at <= $%d", filter.To.UTC())
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM violation")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY occurred_at, created_at")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}
