package main

import (
	"database/sql"
	"fmt"
)

// The interest ledger is the append-only-in-spirit record of swipe decisions:
// one row per ordered (actor, target) pair, overwritten when the actor changes
// their mind. It is the source of truth for "already seen" exclusion and for
// reciprocity detection.

// recordDecision writes or overwrites the actor's decision about the target.
func recordDecision(db *sql.DB, actorID, targetID int, decision string) error {
	if decision != DecisionInterested && decision != DecisionPassed {
		return fmt.Errorf("unknown decision %q", decision)
	}
	_, err := db.Exec(`
		INSERT INTO interest_edges (actor_id, target_id, decision, decided_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (actor_id, target_id)
		DO UPDATE SET decision = EXCLUDED.decision, decided_at = NOW()
	`, actorID, targetID, decision)
	return err
}

// hasReciprocal reports whether the reverse edge (target -> actor) exists with
// decision 'interested'.
func hasReciprocal(db *sql.DB, actorID, targetID int) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM interest_edges
			WHERE actor_id = $1 AND target_id = $2 AND decision = 'interested'
		)
	`, targetID, actorID).Scan(&exists)
	return exists, err
}

// listDecidedTargets returns the set of users the actor has already swiped on.
func listDecidedTargets(db *sql.DB, actorID int) (map[int]struct{}, error) {
	rows, err := db.Query(`SELECT target_id FROM interest_edges WHERE actor_id = $1`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decided := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		decided[id] = struct{}{}
	}
	return decided, rows.Err()
}

// deletePairEdges removes both directional edges between two users inside an
// existing transaction. Used by unmatch and block so the pair cannot re-match
// from stale edges.
func deletePairEdges(tx *sql.Tx, userA, userB int) error {
	_, err := tx.Exec(`
		DELETE FROM interest_edges
		WHERE (actor_id = $1 AND target_id = $2)
		   OR (actor_id = $2 AND target_id = $1)
	`, userA, userB)
	return err
}

// countLedgerEntries reports how many decisions the actor has recorded in total.
func countLedgerEntries(db *sql.DB, actorID int) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM interest_edges WHERE actor_id = $1`, actorID).Scan(&n)
	return n, err
}
