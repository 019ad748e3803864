package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amana.org/internal/authz"
	"amana.org/internal/httpapi"
	"amana.org/internal/obs"
	"amana.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("AMANA_PG_DSN")
	if dsn == "" {
		log.Fatal("AMANA_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	resolver, err := authz.NewResolver(store, store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	cache, err := authz.NewDecisionCache(resolver)
	if err != nil {
		log.Fatalf("decision cache: %v", err)
	}
	groups, err := authz.NewGroupService(store, cache)
	if err != nil {
		log.Fatalf("group service: %v", err)
	}

	// The catalog is code-defined; make sure the rows exist before serving.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := groups.EnsureCatalog(startupCtx); err != nil {
		log.Fatalf("ensure permission catalog: %v", err)
	}
	cancelStartup()

	addr := os.Getenv("AMANA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, cache, groups)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting amana-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
