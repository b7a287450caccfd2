package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/masomo-proctor/apps/api/echo"
	"github.com/trezcool/masomo-proctor/assets"
	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/session"
	"github.com/trezcool/masomo-proctor/services/broker"
	emailsvc "github.com/trezcool/masomo-proctor/services/email"
	"github.com/trezcool/masomo-proctor/services/forward"
	logsvc "github.com/trezcool/masomo-proctor/services/logger"
	metricsvc "github.com/trezcool/masomo-proctor/services/metrics"
	"github.com/trezcool/masomo-proctor/storage/database"
	inmemdb "github.com/trezcool/masomo-proctor/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-proctor/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up logger
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	// set up storage
	var repo session.Repository
	if conf.Database.InMemory() {
		logger.Warn("using the in-memory database: violations won't survive a restart")
		repo = inmemdb.NewViolationRepository(inmemdb.Open())
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				logger.Error(fmt.Sprintf("closing database: %v", err), err)
			}
		}()
		repo = sqlxrepos.NewViolationRepository(db)
	}

	// set up services
	var publisher session.Publisher
	if conf.Redis.Addr != "" {
		client := broker.NewRedisClient(conf.Redis)
		defer func() { _ = client.Close() }()

		b := broker.NewRedisBroker(client, conf.Redis.Channel, logger)
		if err := b.Ping(context.Background()); err != nil {
			logger.Warn(fmt.Sprintf("redis %s unreachable: %v", conf.Redis.Addr, err), err)
		}
		publisher = b
	}

	var forwarder session.Forwarder
	if conf.Backend.ViolationsURL != "" {
		forwarder = forward.NewBackendForwarder(conf.Backend, logger)
	}

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	metrics := metricsvc.New()

	sessionSvc := session.NewService(
		session.Deps{
			Repo:      repo,
			Publisher: publisher,
			Forwarder: forwarder,
			Metrics:   metrics,
			Mail:      mailSvc,
			Logger:    logger,
		},
		session.Options{
			Proctor:       conf.Proctor,
			ProctorEmails: conf.ProctorEmails,
		},
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	core.ParseEmailTemplates(assets.FS, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			SessionSvc: sessionSvc,
			Metrics:    metrics.Handler(),
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		sessionSvc.Close()
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}

		// end the live sessions & flush their violations
		sessionSvc.Close()
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout*6)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
