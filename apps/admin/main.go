package main

import (
	"os"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/services/logger"
	"github.com/luxaar/luxaar/storage/database"
	"github.com/luxaar/luxaar/storage/database/sqlx"
)

var logger core.Logger

func main() {
	conf := core.Conf
	logger = logsvc.NewRollbarLogger(os.Stderr, conf)

	if !conf.Database.Enabled() {
		logger.Fatal("admin: no database server configured")
	}

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// start CLI
	cli := commandLine{
		db:      db.DB,
		usrRepo: sqlxrepos.NewUserRepository(db),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("admin: "+err.Error(), err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
