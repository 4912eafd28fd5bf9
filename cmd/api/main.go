package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Waesta/Wapos-sub010/internal/audit"
	"github.com/Waesta/Wapos-sub010/internal/httpapi"
	"github.com/Waesta/Wapos-sub010/internal/obs"
	"github.com/Waesta/Wapos-sub010/internal/perm"
	"github.com/Waesta/Wapos-sub010/internal/store/pg"
)

var version = "0.3.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system env vars")
	}

	obs.Init()

	dsn := os.Getenv("WAPOS_PG_DSN")
	if dsn == "" {
		log.Fatal("WAPOS_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	ctx := context.Background()

	catalog, err := perm.NewCatalog(store)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	if err := catalog.Seed(ctx); err != nil {
		log.Fatalf("seed catalog: %v", err)
	}

	recorder := audit.NewRecorder(store)

	api := httpapi.New(store, recorder, httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := os.Getenv("WAPOS_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting wapos-access %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Printf("audit drain: %v", err)
	}
	_ = store.Close()
	log.Println("Stopped")
}
