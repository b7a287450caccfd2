package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/services/broker"
	logsvc "github.com/trezcool/masomo-proctor/services/logger"
	"github.com/trezcool/masomo-proctor/storage/database"
	sqlxrepos "github.com/trezcool/masomo-proctor/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	std := logsvc.NewStdLogger(conf)
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// set up DB
	if conf.Database.InMemory() {
		logger.Fatal("the admin CLI needs a postgres database (database.driver is \"memory\")")
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		conf: conf,
		db:   db.DB,
		repo: sqlxrepos.NewViolationRepository(db),
		out:  os.Stdout,
	}
	if conf.Redis.Addr != "" {
		client := broker.NewRedisClient(conf.Redis)
		defer func() { _ = client.Close() }()
		cli.listener = broker.NewRedisBroker(client, conf.Redis.Channel, logger)
	}

	err = cli.run(ctx, os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			std.Errorf("error: %s", err)
		}
		stop()
		os.Exit(1)
	}
}
