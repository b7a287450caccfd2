package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/integrity/remote"
	"github.com/trezcool/masomo-proctor/core/session"
)

type (
	sessionApi struct {
		svc      *session.Service
		validate *validator.Validate
		logger   core.Logger
	}

	StartSessionResponse struct {
		Session  session.Session  `json:"session"`
		Commands []remote.Command `json:"commands"`
	}

	IngestRequest struct {
		Envelopes []remote.Envelope `json:"envelopes" validate:"required,min=1,max=500"`
	}

	ShortcutResponse struct {
		Chord       string `json:"chord"`
		Description string `json:"description"`
	}
)

func (r *IngestRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func registerSessionAPI(g *echo.Group, auth *authenticator, svc *session.Service, validate *validator.Validate, logger core.Logger) {
	api := sessionApi{
		svc:      svc,
		validate: validate,
		logger:   logger,
	}

	sg := g.Group("/sessions")
	sg.GET("/:id/stream", api.stream, auth.query)

	ag := sg.Group("", auth.header)
	ag.POST("", api.start, studentMiddleware)
	ag.GET("", api.query)
	ag.GET("/:id", api.retrieve)
	ag.DELETE("/:id", api.end)
	ag.POST("/:id/events", api.ingest, studentMiddleware)
	ag.GET("/:id/violations", api.recent)

	g.GET("/violations", api.violations, auth.header, staffMiddleware)
}

func listShortcuts(ctx echo.Context) error {
	chords := integrity.BlockedShortcuts()
	res := make([]ShortcutResponse, 0, len(chords))
	for _, c := range chords {
		res = append(res, ShortcutResponse{Chord: c.String(), Description: c.Description})
	}
	return ctx.JSON(http.StatusOK, res)
}

// Handlers

func (api *sessionApi) start(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	var data session.NewSession
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sess, cmds, err := api.svc.Start(actor, ctx.Request().UserAgent(), data)
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	if cmds == nil {
		cmds = make([]remote.Command, 0)
	}
	return ctx.JSON(http.StatusCreated, StartSessionResponse{Session: sess, Commands: cmds})
}

func (api *sessionApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	return ctx.JSON(http.StatusOK, api.svc.QueryAll(actor))
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	st, err := api.svc.Status(ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "getting session status")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *sessionApi) ingest(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	var data IngestRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IngestRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Ingest(ctx.Param("id"), actor, data.Envelopes...)
	if err != nil {
		return errors.Wrap(err, "ingesting envelopes")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *sessionApi) recent(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	vs, err := api.svc.Recent(ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "getting recent violations")
	}
	return ctx.JSON(http.StatusOK, vs)
}

func (api *sessionApi) end(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	sess, err := api.svc.End(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "ending session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) violations(ctx echo.Context) error {
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	recs, err := api.svc.Violations(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying violations")
	}
	return ctx.JSON(http.StatusOK, recs)
}
