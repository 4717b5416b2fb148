package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"supporthub/internal/config"
	"supporthub/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(cfg.AutomationTickSeconds) * time.Second)
	defer ticker.Stop()

	log.Printf("automation worker started (tick=%ds)", cfg.AutomationTickSeconds)

	for {
		select {
		case <-ctx.Done():
			log.Printf("automation worker stopping")
			return
		case <-ticker.C:
			n, err := dispatchDueJobs(ctx, pool, cfg.IngestChannel)
			if err != nil {
				log.Printf("dispatch due jobs: %v", err)
			} else if n > 0 {
				log.Printf("dispatched %d automation events", n)
			}
		}
	}
}

// dispatchDueJobs claims due jobs and emits their event envelopes on the
// notify channel. pg_notify queues inside the transaction and the payloads
// only reach listeners at commit, so a rolled-back claim never notifies.
func dispatchDueJobs(ctx context.Context, pool *pgxpool.Pool, channel string) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		select id
		from automation_jobs
		where status = 'pending' and run_at <= now()
		order by run_at
		limit 100
		for update skip locked
	`)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = tx.Exec(ctx, `
		with claimed as (
			update automation_jobs
			set status = 'dispatched', updated_at = now()
			where id = any($1::uuid[])
			returning event_type, user_id, organization_id, broadcast, payload
		)
		select pg_notify($2, json_build_object(
			'type', event_type,
			'user_id', user_id,
			'organization_id', organization_id,
			'broadcast', broadcast,
			'payload', payload
		)::text)
		from claimed
	`, ids, channel)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}
