package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"business-objects/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays.
func CleanupOldEvents(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int) (int64, error) {
	pb := dialect.NewParamBuilder()
	where := dialect.IntervalDeleteExpr("created_at", pb, fmt.Sprintf("%d", retentionDays))
	n, err := store.Exec(ctx, db, "DELETE FROM _events WHERE "+where, pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return n, nil
}

// StartCleanup runs CleanupOldEvents every interval until ctx is done.
func StartCleanup(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := CleanupOldEvents(ctx, db, dialect, retentionDays)
				if err != nil {
					log.Printf("ERROR: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("Event cleanup: deleted %d old events", n)
				}
			}
		}
	}()
}
