package sqlxrepos

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/session"
)

func TestFilterQuery(t *testing.T) {
	from := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   session.QueryFilter
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "no filter",
			wantSQL: "SELECT * FROM violation ORDER BY occurred_at, created_at",
		},
		{
			name:     "session with limit",
			filter:   session.QueryFilter{SessionID: "s1", Limit: 10},
			wantSQL:  "SELECT * FROM violation WHERE session_id = $1 ORDER BY occurred_at, created_at LIMIT $2",
			wantArgs: []interface{}{"s1", 10},
		},
		{
			name: "every field",
			filter: session.QueryFilter{
				SessionID:  "s1",
				StudentID:  "u1",
				QuizID:     "q1",
				Types:      []integrity.ViolationType{integrity.ViolationTabChange},
				Severities: []integrity.Severity{integrity.SeverityHigh, integrity.SeverityCritical},
				From:       from,
				To:         from.Add(time.Hour),
			},
			wantSQL: "SELECT * FROM violation WHERE session_id = $1 AND student_id = $2 AND quiz_id = $3" +
				" AND violation_type = ANY($4) AND severity = ANY($5) AND occurred_at >= $6 AND occurred_at <= $7" +
				" ORDER BY occurred_at, created_at",
			wantArgs: []interface{}{
				"s1", "u1", "q1",
				pq.Array([]string{"tab_change"}),
				pq.Array([]string{"high", "critical"}),
				from, from.Add(time.Hour),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := filterQuery(tt.filter)
			assert.Equal(t, tt.wantSQL, q)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestViolationRow(t *testing.T) {
	dist := 111.2
	rec := session.Record{
		ID:          "v1",
		SessionID:   "s1",
		Type:        integrity.ViolationLocation,
		Severity:    integrity.SeverityHigh,
		CanContinue: core.BoolPtr(true),
		Distance:    &dist,
		OccurredAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("EAT", 3*3600)),
	}

	row := toRow(rec)
	assert.Equal(t, null.BoolFrom(true), row.CanContinue)
	assert.Equal(t, null.Float64From(dist), row.Distance)
	assert.Equal(t, time.UTC, row.OccurredAt.Location())

	back := row.record()
	assert.True(t, rec.OccurredAt.Equal(back.OccurredAt))
	assert.Equal(t, rec.CanContinue, back.CanContinue)
	assert.Equal(t, rec.Distance, back.Distance)

	row = toRow(session.Record{Type: integrity.ViolationTabChange})
	assert.False(t, row.CanContinue.Valid)
	assert.Nil(t, row.record().Distance)
}
