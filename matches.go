package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// pairKey canonicalizes an unordered user pair into a deterministic composite
// key, so both swipe paths address the same match row.
func pairKey(userA, userB int) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%d:%d", lo, hi)
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

const matchColumns = `
	pair_key, user_lo, user_hi, created_at,
	name_lo, name_hi, photo_lo, photo_hi, unread_lo, unread_hi`

func scanMatch(row *sql.Row) (*Match, error) {
	var m Match
	err := row.Scan(
		&m.PairKey, &m.UserLo, &m.UserHi, &m.CreatedAt,
		&m.NameLo, &m.NameHi, &m.PhotoLo, &m.PhotoHi, &m.UnreadLo, &m.UnreadHi,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func getMatchByPair(q rowQuerier, userA, userB int) (*Match, error) {
	return scanMatch(q.QueryRow(
		`SELECT `+matchColumns+` FROM matches WHERE pair_key = $1`, pairKey(userA, userB)))
}

// materializeIfAbsent creates the match and its conversation channel for a
// mutually interested pair, exactly once. The create-if-absent runs on the
// canonical pair key inside one transaction, so when both users' swipes detect
// reciprocity near-simultaneously only one row is created and the loser of the
// race gets the existing match back with created=false.
//
// Blocked pairs never materialize: the block check happens in the same
// transaction as the insert.
func materializeIfAbsent(ctx context.Context, db *sql.DB, userA, userB int) (match *Match, created bool, err error) {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	key := pairKey(lo, hi)

	err = withTx(ctx, db, func(tx *sql.Tx) error {
		var blocked bool
		if err := tx.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM blocks
				WHERE (user_id = $1 AND blocked_user_id = $2)
				   OR (user_id = $2 AND blocked_user_id = $1)
			)
		`, lo, hi).Scan(&blocked); err != nil {
			return err
		}
		if blocked {
			return nil
		}

		// Snapshot both participants' current display name and primary photo.
		// Intentionally denormalized: a small staleness risk in exchange for a
		// read path that never joins profiles.
		nameLo, photoLo, err := snapshotInTx(tx, lo)
		if err != nil {
			return err
		}
		nameHi, photoHi, err := snapshotInTx(tx, hi)
		if err != nil {
			return err
		}

		var createdAt time.Time
		err = tx.QueryRow(`
			INSERT INTO matches (pair_key, user_lo, user_hi, name_lo, name_hi, photo_lo, photo_hi)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pair_key) DO NOTHING
			RETURNING created_at
		`, key, lo, hi, nameLo, nameHi, photoLo, photoHi).Scan(&createdAt)
		if err == sql.ErrNoRows {
			// Race lost: the other swipe created it first. Idempotent return.
			existing, err := scanMatch(tx.QueryRow(
				`SELECT `+matchColumns+` FROM matches WHERE pair_key = $1`, key))
			if err != nil {
				return err
			}
			match = existing
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO channels (pair_key) VALUES ($1) ON CONFLICT DO NOTHING
		`, key); err != nil {
			return err
		}

		match = &Match{
			PairKey: key, UserLo: lo, UserHi: hi, CreatedAt: createdAt,
			NameLo: nameLo, NameHi: nameHi, PhotoLo: photoLo, PhotoHi: photoHi,
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return match, created, nil
}

func snapshotInTx(tx *sql.Tx, userID int) (displayName, primaryPhoto string, err error) {
	err = tx.QueryRow(`
        SELECT
            COALESCE(NULLIF(p.display_name, ''), 'User ' || u.id::text),
            COALESCE(p.photos ->> 0, 'avatar_placeholder.png')
        FROM users u
        LEFT JOIN profiles p ON p.user_id = u.id
        WHERE u.id = $1
    `, userID).Scan(&displayName, &primaryPhoto)
	return
}

// dissolvePair deletes the match between two users together with its channel,
// messages (via cascade) and both directional interest edges. Without the edge
// cleanup a later candidate encounter would re-match the pair instantly.
func dissolvePair(tx *sql.Tx, userA, userB int) error {
	if _, err := tx.Exec(`DELETE FROM matches WHERE pair_key = $1`, pairKey(userA, userB)); err != nil {
		return err
	}
	return deletePairEdges(tx, userA, userB)
}

// MatchSummary is one entry of the authenticated user's match list, rendered
// from the snapshot on the match row plus batched lookups for liveness data.
type MatchSummary struct {
	PairKey       string     `json:"pair_key"`
	PeerID        int        `json:"peer_id"`
	PeerName      string     `json:"peer_name"`
	PeerPhoto     string     `json:"peer_photo"`
	MatchedAt     time.Time  `json:"matched_at"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	IsOnline      bool       `json:"is_online"`
}

// GET /matches
// Lists the user's matches newest-first. Peer name and photo come from the
// creation-time snapshot; online flags and last-message times are hydrated
// through per-request dataloaders so N matches cost two extra queries, not 2N.
func matchesHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			SELECT `+matchColumns+`
			FROM matches
			WHERE user_lo = $1 OR user_hi = $1
			ORDER BY created_at DESC
		`, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		var matches []Match
		for rows.Next() {
			var m Match
			if err := rows.Scan(
				&m.PairKey, &m.UserLo, &m.UserHi, &m.CreatedAt,
				&m.NameLo, &m.NameHi, &m.PhotoLo, &m.PhotoHi, &m.UnreadLo, &m.UnreadHi,
			); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			matches = append(matches, m)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		loaders := GetDataLoadersFromContext(r.Context())
		summaries := make([]MatchSummary, 0, len(matches))
		for _, m := range matches {
			peer := m.OtherUser(userID)
			s := MatchSummary{
				PairKey:     m.PairKey,
				PeerID:      peer,
				MatchedAt:   m.CreatedAt,
				UnreadCount: m.UnreadFor(userID),
			}
			if m.UserLo == peer {
				s.PeerName, s.PeerPhoto = m.NameLo, m.PhotoLo
			} else {
				s.PeerName, s.PeerPhoto = m.NameHi, m.PhotoHi
			}
			if loaders != nil {
				if u, err := loaders.UserLoader.Load(r.Context(), peer)(); err == nil && u != nil {
					s.IsOnline = u.IsOnline()
				}
				if cs, err := loaders.ChannelLoader.Load(r.Context(), m.PairKey)(); err == nil && cs != nil {
					s.LastMessageAt = cs.LastMessageAt
				}
			}
			summaries = append(summaries, s)
		}
		writeJSON(w, http.StatusOK, map[string][]MatchSummary{"matches": summaries})
	})
}

// Dispatcher for /matches/{peerID} actions
func matchesActionsRouter(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) == 2 && parts[0] == "matches" && r.Method == http.MethodDelete {
			unmatchHandler(db).ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

// DELETE /matches/{peerID}
// Unmatching removes the match, its channel and both interest edges. Unlike a
// block there is no poison state: a fresh mutual swipe sequence between the two
// users can create a new match later.
func unmatchHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		peerID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := r.Context().Value(userIDKey).(int)
		if peerID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}

		found := false
		err = withTx(r.Context(), db, func(tx *sql.Tx) error {
			var key string
			err := tx.QueryRow(
				`SELECT pair_key FROM matches WHERE pair_key = $1 FOR UPDATE`,
				pairKey(me, peerID)).Scan(&key)
			if err == sql.ErrNoRows {
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			return dissolvePair(tx, me, peerID)
		})
		if err != nil {
			log.Println("unmatchHandler tx error:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
