package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Caller-visible error taxonomy. Quota exhaustion is terminal for the request
// and must stay distinguishable from an empty feed; store and ledger failures
// are transient and safe to retry (RecordDecision is an overwrite, not an
// append).
var (
	ErrQuotaExceeded             = errors.New("daily swipe quota exceeded")
	ErrCandidateStoreUnavailable = errors.New("candidate store unavailable")
	ErrLedgerWriteFailed         = errors.New("interest ledger write failed")
)

// Bounded candidate batch per feed request; tunable via FEED_BATCH_SIZE.
var feedBatchSize = 50

// getFeed produces the ranked discovery feed for a requester: bounded raw
// candidate batch, seen/blocked exclusion, then pure ranking. A zero-candidate
// result is an empty feed, not an error.
func getFeed(db *sql.DB, requesterID int, filters Filters) ([]RankedCandidate, error) {
	requester, err := getProfile(db, requesterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCandidateStoreUnavailable, err)
	}

	history, err := listDecidedTargets(db, requesterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCandidateStoreUnavailable, err)
	}

	candidates, err := listCandidateProfiles(db, requesterID, feedBatchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCandidateStoreUnavailable, err)
	}

	return rankCandidates(*requester, history, candidates, filters, time.Now()), nil
}

// submitSwipe records one directional decision. Quota consumption happens
// strictly before the ledger write; a rejected quota check never leaves a
// partial ledger entry. If the ledger write fails after quota was consumed the
// slot is not refunded (quota is a rate limit, not a precise ledger) but the
// caller is told the swipe did not register and may resubmit.
func submitSwipe(ctx context.Context, db *sql.DB, actorID, targetID int, decision string) (*SwipeResult, error) {
	ceiling, err := ceilings.GetSwipeCeiling(actorID)
	if err != nil {
		return nil, fmt.Errorf("resolving swipe ceiling: %w", err)
	}

	allowed, remaining, err := tryConsumeQuota(db, actorID, quotaDay(time.Now()), ceiling)
	if err != nil {
		return nil, fmt.Errorf("consuming quota: %w", err)
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	if err := recordDecision(db, actorID, targetID, decision); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}

	result := &SwipeResult{Remaining: remaining}
	if decision != DecisionInterested {
		// A pass never checks reciprocity and never matches.
		return result, nil
	}

	reciprocal, err := hasReciprocal(db, actorID, targetID)
	if err != nil {
		// The decision is recorded; reciprocity will be re-detected when the
		// target swipes. Surface the transient failure.
		return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}
	if !reciprocal {
		return result, nil
	}

	match, created, err := materializeIfAbsent(ctx, db, actorID, targetID)
	if err != nil {
		return nil, fmt.Errorf("materializing match: %w", err)
	}
	if match == nil {
		// Blocked pair: edges exist but no match may form.
		return result, nil
	}

	result.IsMatch = true
	result.Match = match
	if created {
		eventHub.Publish(newMatchEvent(match))
		// Notification dispatch must not block the swipe response; the
		// dispatcher owns its own retry policy.
		go notifier.NotifyMatch(match.UserLo, match.UserHi, match.PairKey)
		go notifier.NotifyMatch(match.UserHi, match.UserLo, match.PairKey)
	}
	return result, nil
}

// GET /feed
// Query options: max_distance_km, min_age, max_age, interested_in (csv),
// looking_for (csv). interested_in falls back to the requester's stored
// preference when absent.
func feedHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		// Gate by profile completion
		var isComplete bool
		err := db.QueryRow("SELECT COALESCE(is_complete, FALSE) FROM profiles WHERE user_id = $1", userID).Scan(&isComplete)
		if err == sql.ErrNoRows || !isComplete {
			writeError(w, http.StatusForbidden, "incomplete_profile")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		filters := DefaultFilters()
		q := r.URL.Query()
		if v := q.Get("max_distance_km"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				filters.MaxDistanceKm = f
			}
		}
		if v := q.Get("min_age"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filters.MinAge = n
			}
		}
		if v := q.Get("max_age"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filters.MaxAge = n
			}
		}
		if v := q.Get("interested_in"); v != "" {
			filters.InterestedIn = splitCSV(v)
		}
		if v := q.Get("looking_for"); v != "" {
			filters.LookingFor = splitCSV(v)
		}
		if len(filters.InterestedIn) == 0 {
			if p, err := getProfile(db, userID); err == nil {
				filters.InterestedIn = p.InterestedIn
			}
		}

		feed, err := getFeed(db, userID, filters)
		if err != nil {
			log.Println("feedHandler error:", err)
			writeError(w, http.StatusServiceUnavailable, "try_again")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]RankedCandidate{"feed": feed})
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Dispatcher for POST /swipes/{id}
func swipesRouter(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[0] != "swipes" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		me := r.Context().Value(userIDKey).(int)
		if targetID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}

		var req struct {
			Decision string `json:"decision"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Decision != DecisionInterested && req.Decision != DecisionPassed {
			writeError(w, http.StatusBadRequest, "invalid_decision")
			return
		}

		// Ensure target exists with a complete profile
		var exists bool
		if err := db.QueryRow(`
			SELECT EXISTS (
				SELECT 1
				FROM users u
				JOIN profiles p ON p.user_id = u.id
				WHERE u.id = $1 AND COALESCE(p.is_complete, FALSE) = TRUE
			)
		`, targetID).Scan(&exists); err != nil || !exists {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		result, err := submitSwipe(r.Context(), db, me, targetID, req.Decision)
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			// Terminal: the UI should show an upgrade prompt, not retry.
			writeError(w, http.StatusTooManyRequests, "quota_exceeded")
			return
		case errors.Is(err, ErrLedgerWriteFailed):
			writeError(w, http.StatusServiceUnavailable, "try_again")
			return
		case err != nil:
			log.Println("swipesRouter error:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}
