package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/academia/apps/api/di"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
	logsvc "github.com/trezcool/academia/services/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := core.NewConfig()
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}
	logger := logsvc.New("ADMIN", conf)

	backends, res, err := di.SetUp(context.Background(), conf, logger, logger, false)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up backends: %v", err), err)
		return 1
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing connections: %v", err), err)
		}
	}()

	user.LoadCommonPasswords(logger)

	// start CLI
	cli := commandLine{
		c: di.New(conf, logger, backends),
		b: backends,
	}
	if res.DB != nil {
		cli.db = res.DB.DB
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		return 1
	}
	return 0
}
