package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/checkpoint"
	"github.com/totegamma/checkpoint/internal/config"
	"github.com/totegamma/checkpoint/internal/logger"
	restmiddleware "github.com/totegamma/checkpoint/internal/present/rest/middleware"
	"github.com/totegamma/checkpoint/internal/tracing"
)

func main() {
	configPath := flag.String("config", "/etc/checkpoint/config.yaml", "path to the config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{Level: conf.Log.Level, Pretty: conf.Log.Pretty})
	zlog := log.Zerolog()

	if conf.Trace.Enable {
		shutdown, err := tracing.Setup(context.Background(), "checkpoint", conf.Trace.Endpoint)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to set up tracing")
		}
		defer shutdown(context.Background())
	}

	engine, err := checkpoint.FromConfig(conf, log)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to build engine")
	}
	defer engine.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if conf.Trace.Enable {
		e.Use(otelecho.Middleware("checkpoint"))
	}
	e.Use(restmiddleware.RequestLogger(log.Component("http")))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	engine.RegisterRoutes(e)

	go func() {
		log.LogServerStart(conf.Server.Listen, conf.Storage.Driver)
		if err := e.Start(conf.Server.Listen); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.LogServerShutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		zlog.Error().Err(err).Msg("graceful shutdown failed")
	}
}
