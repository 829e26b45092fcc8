package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/trezcool/academia/apps/api/di"
	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/user"
	logsvc "github.com/trezcool/academia/services/logger"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := logsvc.New("API", conf)
	dbLogger := logsvc.New("DB", conf)

	ctx := context.Background()
	backends, res, err := di.SetUp(ctx, conf, logger, dbLogger, true)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up backends: %v", err), err)
	}
	defer func() {
		if err = res.Close(); err != nil {
			dbLogger.Error(fmt.Sprintf("closing connections: %v", err), err)
		}
	}()

	c := di.New(conf, logger, backends)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(conf.FrontendBaseURL, logger)
	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("storage").Set(conf.Storage)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Exam Sweeper

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweepExpiredAttempts(sweepCtx, c.ExamSvc, conf.Commerce.ExamSweepInterval, logger)

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.NewDeps(c))

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopSweeper()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// sweepExpiredAttempts submits the exam attempts whose deadline has passed, every `interval`.
func sweepExpiredAttempts(ctx context.Context, svc *exam.Service, interval time.Duration, logger core.Logger) {
	if interval <= 0 {
		logger.Warn("exam sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.AutoSubmitExpired(ctx)
			if err != nil {
				logger.Error(fmt.Sprintf("sweeping expired attempts: %v", err), err)
				continue
			}
			if n > 0 {
				logger.Info(fmt.Sprintf("auto-submitted %d expired attempt(s)", n))
			}
		}
	}
}
