// Command llmgw runs the LLM reverse-proxy gateway: flag parsing, config
// load, singleton wiring and graceful shutdown, grounded in the teacher's
// cmd/main.go main()/initDatabase/signal-handling sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"llmgw/internal/config"
	"llmgw/internal/dispatcher"
	"llmgw/internal/forwarder"
	"llmgw/internal/logging"
	"llmgw/internal/probe"
	"llmgw/internal/recorder"
	"llmgw/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port       = flag.Int("port", 0, "listen port (0: use config/default)")
		logLevel   = flag.String("log-level", "INFO", "DEBUG, INFO, WARNING, or ERROR")
		logFile    = flag.String("log-file", "", "optional rotating log file path")
		configPath = flag.String("config", "config.json", "path to the gateway configuration document")
		dbPath     = flag.String("db", "interactions.db", "path to the sqlite interaction database")
	)
	flag.Parse()

	log, err := logging.New(*logLevel, *logFile, 100)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		return 1
	}

	policy, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}
	listenPort := policy.Port
	if *port != 0 {
		listenPort = *port
	}

	db, err := gorm.Open(sqlite.Open(*dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		log.WithError(err).Error("failed to open interaction database")
		return 1
	}
	if err := store.AutoMigrate(db); err != nil {
		log.WithError(err).Error("failed to migrate interaction database")
		return 1
	}

	queue := store.NewQueue(store.DefaultCapacity)
	writer := store.NewWriter(db, queue, log)
	defer writer.Close()

	rec := recorder.New(writer)
	fwd := forwarder.New(forwarder.NewHTTPClient())
	rateLimiter := probe.NewIPRateLimiter(rate.Limit(5), 20)

	disp := dispatcher.New(policy.Registry, policy.Probe, rateLimiter, fwd, rec, policy.DefaultOpenAIUpstream, log)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(log.Writer()))
	disp.Routes(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", listenPort),
		Handler: engine,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("llmgw listening on port %d", listenPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.WithError(err).Error("failed to start server")
		return 1
	case <-quit:
		log.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		return 1
	}

	log.Info("server exited")
	return 0
}
