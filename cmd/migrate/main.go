package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"amana.org/internal/authz"
	"amana.org/internal/migrate"
	"amana.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("AMANA_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AMANA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|provision <org-id>]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, os.DirFS(*migrationsPath), os.DirFS(*seedsPath))

	switch flag.Arg(0) {
	case "up":
		err = runner.Apply(ctx)
	case "down":
		err = runner.Rollback(ctx)
	case "seed":
		err = runner.Seed(ctx)
	case "provision":
		orgID := flag.Arg(1)
		if orgID == "" {
			log.Fatal("usage: migrate provision <org-id>")
		}
		err = provision(ctx, db, orgID)
	case "status":
		var history []migrate.Record
		history, err = runner.Applied(ctx)
		if err == nil {
			for _, rec := range history {
				fmt.Printf("%s\t%s\n", rec.Name, rec.AppliedAt.Format(time.RFC3339))
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// provision upserts the permission catalog and creates the organization's
// protected system groups.
func provision(ctx context.Context, db *sql.DB, orgID string) error {
	groups, err := authz.NewGroupService(pg.New(db), nil)
	if err != nil {
		return err
	}
	if err := groups.EnsureCatalog(ctx); err != nil {
		return err
	}
	return groups.EnsureSystemGroups(ctx, orgID)
}
