package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"golang.org/x/sync/errgroup"

	dig_container "github.com/smarthomecloud/backend/apps/api/di/dig"
	echoapi "github.com/smarthomecloud/backend/apps/api/echo"
	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
	mqttsvc "github.com/smarthomecloud/backend/services/telemetry"
	workersvc "github.com/smarthomecloud/backend/services/worker"
)

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		closeDB dig_container.DBCloser,
		server *echoapi.Server,
		consumer *mqttsvc.Consumer,
		watchdog *workersvc.Watchdog,
		scheduler *workersvc.Scheduler,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.ParseEmailTemplates(conf, apiLogger)

		user.LoadCommonPasswords(apiLogger)

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := closeDB(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")

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
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Background Workers

		ctx, stopWorkers := context.WithCancel(context.Background())
		workers, ctx := errgroup.WithContext(ctx)
		workers.Go(func() error { return watchdog.Run(ctx) })
		workers.Go(func() error { return scheduler.Run(ctx) })
		if conf.MQTT.Enabled {
			workers.Go(func() error { return consumer.Run(ctx) })
		}
		defer func() {
			stopWorkers()
			if err := workers.Wait(); err != nil && err != context.Canceled {
				apiLogger.Error(fmt.Sprintf("worker stopped: %v", err), err)
			}
		}()

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case <-ctx.Done():
			apiLogger.Error("a background worker failed, shutting down", ctx.Err())
			shutdown(conf, server, apiLogger)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
			shutdown(conf, server, apiLogger)
		}
	}))
}

func shutdown(conf *core.Config, server *echoapi.Server, logger core.Logger) {
	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	// asking listener to shut down and shed load
	if err := server.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

		if err = server.Close(); err != nil {
			logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
