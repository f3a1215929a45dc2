package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatline/internal/api"
	"github.com/npezzotti/go-chatline/internal/config"
	"github.com/npezzotti/go-chatline/internal/database"
	"github.com/npezzotti/go-chatline/internal/server"
	"github.com/npezzotti/go-chatline/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr           string
	dbURI          string
	dbName         string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	config.LoadEnv(".env")

	flag.StringVar(&addr, "addr", envOr("SERVER_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dbURI, "db-uri", envOr("DATABASE_URI", "mongodb://localhost:27017"), "database connection URI")
	flag.StringVar(&dbName, "db-name", envOr("DATABASE_NAME", "chatline"), "database name")
	flag.StringVar(&signingKey, "signing-key", envOr("SIGNING_SECRET", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatline] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dbURI, dbName, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := database.NewMongoStore(connectCtx, cfg.DatabaseURI, cfg.DatabaseName)
	cancelConnect()
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Println("db close:", err)
		}
	}()

	db := database.NewDocumentRepository(store)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, db, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
