package main

import (
	"context"
	"errors"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/db"
	"sitevisit_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recomputes address-derived site keys after a change to the address
// canonicalization. Keys taken from an explicit site reference are left alone.

type visitAddress struct {
	id      uuid.UUID
	address string
	siteKey string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting visit site key backfill")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg, db.SchedulerPool)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	const batchSize = 200
	after := uuid.Nil
	updated, conflicts := 0, 0
	for {
		visits, err := listAddressKeyedVisits(ctx, pool, after, batchSize)
		if err != nil {
			log.Error("failed to list visits", "error", err)
			return
		}
		if len(visits) == 0 {
			log.Info("site key backfill complete", "updated", updated, "conflicts", conflicts)
			return
		}

		for _, v := range visits {
			after = v.id

			key := domain.SiteKey("", v.address)
			if key == v.siteKey {
				continue
			}

			if err := updateSiteKey(ctx, pool, v.id, key); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					// Another open visit already holds the new key.
					conflicts++
					log.Warn("site key collides with an open visit", "visitId", v.id, "siteKey", key)
					continue
				}
				log.Error("failed to update visit", "visitId", v.id, "error", err)
				continue
			}

			updated++
			log.Info("site key updated", "visitId", v.id, "from", v.siteKey, "to", key)
		}
	}
}

func listAddressKeyedVisits(ctx context.Context, pool *pgxpool.Pool, after uuid.UUID, limit int) ([]visitAddress, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, address, site_key
		FROM visits
		WHERE site_key LIKE 'addr:%'
		  AND id > $1
		ORDER BY id ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	visits := make([]visitAddress, 0)
	for rows.Next() {
		var v visitAddress
		if err := rows.Scan(&v.id, &v.address, &v.siteKey); err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return visits, nil
}

func updateSiteKey(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID, key string) error {
	_, err := pool.Exec(ctx, `
		UPDATE visits
		SET site_key = $2, updated_at = now()
		WHERE id = $1
	`, id, key)
	return err
}
