package main

import (
	"database/sql"
	"log"
	"time"
)

// Daily swipe ceilings by subscription tier. The resolver is the single source
// of truth; nothing caches a ceiling across requests, so a tier change takes
// effect on the user's next swipe.
const (
	freeTierCeiling = 25
	plusTierCeiling = 100
	goldTierCeiling = 100000 // effectively unlimited
)

// SwipeCeilingResolver resolves a user's current daily swipe ceiling. It is an
// external collaborator from the discovery service's point of view; the default
// implementation reads the tier column on users.
type SwipeCeilingResolver interface {
	GetSwipeCeiling(userID int) (int, error)
}

// Global resolver instance, wired in main and swappable in tests.
var ceilings SwipeCeilingResolver

type tierResolver struct {
	db *sql.DB
}

func (t *tierResolver) GetSwipeCeiling(userID int) (int, error) {
	var tier string
	err := t.db.QueryRow(`SELECT tier FROM users WHERE id = $1`, userID).Scan(&tier)
	if err != nil {
		return 0, err
	}
	switch tier {
	case "gold":
		return goldTierCeiling, nil
	case "plus":
		return plusTierCeiling, nil
	default:
		return freeTierCeiling, nil
	}
}

// quotaDay returns the calendar day a swipe issued at t counts against.
func quotaDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// tryConsumeQuota atomically consumes one swipe slot for (userID, day).
// The check-and-increment happens in a single statement, so two concurrent
// swipes cannot both take the last slot: the conditional UPDATE arm re-checks
// the count under the row lock Postgres takes for the upsert.
//
// Returns allowed=false with remaining=0 when the ceiling is reached; state is
// not mutated in that case. There is no carry-over between days.
func tryConsumeQuota(db *sql.DB, userID int, day string, ceiling int) (allowed bool, remaining int, err error) {
	if ceiling < 1 {
		return false, 0, nil
	}

	var count int
	err = db.QueryRow(`
		INSERT INTO swipe_quota (user_id, day, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day)
		DO UPDATE SET count = swipe_quota.count + 1
		WHERE swipe_quota.count < $3
		RETURNING count
	`, userID, day, ceiling).Scan(&count)
	if err == sql.ErrNoRows {
		// Conditional update arm declined: ceiling already reached.
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, ceiling - count, nil
}

// startQuotaJanitor periodically deletes quota rows older than two days.
// Not needed for correctness (a new day starts at zero regardless), only for
// storage hygiene, so failures are logged and ignored.
func startQuotaJanitor(db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			res, err := db.Exec(`DELETE FROM swipe_quota WHERE day < CURRENT_DATE - 2`)
			if err != nil {
				log.Println("quota janitor sweep failed:", err)
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				log.Printf("quota janitor removed %d stale rows", n)
			}
		}
	}()
}
