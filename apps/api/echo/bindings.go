package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/session"
)

// splitParam returns the values of a repeated or comma separated query param.
func splitParam(ctx echo.Context, name string) []string {
	var vals []string
	for _, raw := range ctx.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
	}
	return vals
}

// bindQueryFilter reads a session.QueryFilter from the query params.
// Times are RFC 3339; unknown types & severities are rejected.
func bindQueryFilter(ctx echo.Context) (session.QueryFilter, error) {
	filter := session.QueryFilter{
		SessionID: ctx.QueryParam("session_id"),
		StudentID: ctx.QueryParam("student_id"),
		QuizID:    ctx.QueryParam("quiz_id"),
	}
	var fldErrs []core.FieldError

	for _, v := range splitParam(ctx, "type") {
		vt := integrity.ViolationType(v)
		if !vt.Valid() {
			fldErrs = append(fldErrs, core.FieldError{Field: "type", Error: "unknown violation type " + strconv.Quote(v)})
			continue
		}
		filter.Types = append(filter.Types, vt)
	}
	for _, v := range splitParam(ctx, "severity") {
		sev := integrity.Severity(v)
		if !sev.Valid() {
			fldErrs = append(fldErrs, core.FieldError{Field: "severity", Error: "unknown severity " + strconv.Quote(v)})
			continue
		}
		filter.Severities = append(filter.Severities, sev)
	}

	parseTime := func(name string, dst *time.Time) {
		raw := ctx.QueryParam(name)
		if raw == "" {
			return
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: name, Error: "must be an RFC 3339 time"})
			return
		}
		*dst = t
	}
	parseTime("from", &filter.From)
	parseTime("to", &filter.To)

	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			fldErrs = append(fldErrs, core.FieldError{Field: "limit", Error: "must be a positive integer"})
		}
		filter.Limit = limit
	}

	if len(fldErrs) > 0 {
		return session.QueryFilter{}, core.NewValidationError(nil, fldErrs...)
	}
	filter.Clean()
	return filter, nil
}
