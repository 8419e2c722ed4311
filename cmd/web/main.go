package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"omrkey/internal/answerkey"
	"omrkey/internal/app"
	"omrkey/internal/db"
)

func main() {
	cfg := app.LoadConfig()
	ctx := context.Background()

	var (
		dbConn *sql.DB
		repo   answerkey.Repository
	)
	if cfg.DBDSN == "" {
		log.Printf("DB_DSN not set, answer keys are kept in memory")
		repo = answerkey.NewMemoryRepository()
	} else {
		conn, err := db.OpenPostgres(ctx, cfg.DBDSN, db.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
		})
		if err != nil {
			log.Printf("database error: %v", err)
			os.Exit(1)
		}
		defer conn.Close()

		pg := answerkey.NewPostgresRepository(conn)
		if err := db.Migrate(ctx, pg); err != nil {
			log.Printf("database error: %v", err)
			os.Exit(1)
		}
		dbConn, repo = conn, pg
	}

	r := app.NewRouter(cfg, dbConn, repo)

	log.Printf("omrkey web listening on %s env=%s", cfg.HTTPAddr, cfg.AppEnv)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
