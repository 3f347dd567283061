package main

import (
	"context"
	"encoding/base64"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/npezzotti/go-chatsync/internal/broker"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

var (
	addr       string
	signingKey string
)

func main() {
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("RELAY_ADDR", "localhost:8000"), "relay listen address")
	flag.StringVar(&signingKey, "signing-key", envOr("RELAY_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatsync-relay] ", log.LstdFlags)

	key, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		logger.Fatal("decode signing key:", err)
	}

	srv := broker.NewServer(logger, addr, key)

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
		logger.Println("relay:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("relay shutdown:", err)
	}

	logger.Println("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
