package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Profile store adapter: all reads the discovery service needs, backed by the
// profiles table. Eventually consistent from the feed's point of view; the
// ranker re-checks every exclusion on the loaded rows anyway.

func scanProfileRow(scan func(dest ...any) error) (Profile, error) {
	var p Profile
	var birthDate sql.NullTime
	var interestedIn, lookingFor, interestTags, photos []byte
	err := scan(
		&p.UserID, &p.DisplayName, &birthDate, &p.Gender,
		&interestedIn, &lookingFor, &interestTags, &photos,
		&p.LocationLat, &p.LocationLon, &p.Rating, &p.IsComplete,
	)
	if err != nil {
		return Profile{}, err
	}
	if birthDate.Valid {
		bd := birthDate.Time
		p.BirthDate = &bd
	}
	_ = json.Unmarshal(interestedIn, &p.InterestedIn)
	_ = json.Unmarshal(lookingFor, &p.LookingFor)
	_ = json.Unmarshal(interestTags, &p.InterestTags)
	_ = json.Unmarshal(photos, &p.Photos)
	return p, nil
}

const profileColumns = `
	p.user_id, p.display_name, p.birth_date, p.gender,
	p.interested_in, p.looking_for, p.interest_tags, p.photos,
	p.location_lat, p.location_lon, p.rating, p.is_complete`

// getProfile loads one profile with its block set. Returns sql.ErrNoRows when
// the user has no profile yet.
func getProfile(db *sql.DB, userID int) (*Profile, error) {
	row := db.QueryRow(`SELECT `+profileColumns+` FROM profiles p WHERE p.user_id = $1`, userID)
	p, err := scanProfileRow(row.Scan)
	if err != nil {
		return nil, err
	}
	blocked, err := loadBlockSets(db, []int{userID})
	if err != nil {
		return nil, err
	}
	p.Blocked = blocked[userID]
	return &p, nil
}

// loadBlockSets fetches the block sets of several users in one query.
func loadBlockSets(db *sql.DB, userIDs []int) (map[int]map[int]struct{}, error) {
	sets := make(map[int]map[int]struct{}, len(userIDs))
	if len(userIDs) == 0 {
		return sets, nil
	}
	rows, err := db.Query(`
		SELECT user_id, blocked_user_id FROM blocks WHERE user_id = ANY($1)
	`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var owner, blocked int
		if err := rows.Scan(&owner, &blocked); err != nil {
			return nil, err
		}
		if sets[owner] == nil {
			sets[owner] = make(map[int]struct{})
		}
		sets[owner][blocked] = struct{}{}
	}
	return sets, rows.Err()
}

// listCandidateProfiles loads a bounded batch of complete profiles that the
// requester has not swiped on and that are not blocked in either direction.
// Rows come back in stable user_id order so the ranker's tie-breaking is
// deterministic across calls.
func listCandidateProfiles(db *sql.DB, requesterID, limit int) ([]Profile, error) {
	rows, err := db.Query(`
		SELECT `+profileColumns+`
		FROM profiles p
		WHERE p.is_complete = TRUE
		  AND p.user_id <> $1
		  AND NOT EXISTS (
			SELECT 1 FROM interest_edges e
			WHERE e.actor_id = $1 AND e.target_id = p.user_id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.user_id = $1 AND b.blocked_user_id = p.user_id)
			   OR (b.user_id = p.user_id AND b.blocked_user_id = $1)
		  )
		ORDER BY p.user_id
		LIMIT $2
	`, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Profile
	var ids []int
	for rows.Next() {
		p, err := scanProfileRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, p)
		ids = append(ids, p.UserID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	blockSets, err := loadBlockSets(db, ids)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Blocked = blockSets[candidates[i].UserID]
	}
	return candidates, nil
}

// --- Handlers ---

type profileUpdateRequest struct {
	DisplayName  string   `json:"display_name"`
	BirthDate    string   `json:"birth_date"` // YYYY-MM-DD
	Gender       string   `json:"gender"`
	InterestedIn []string `json:"interested_in"`
	LookingFor   []string `json:"looking_for"`
	InterestTags []string `json:"interest_tags"`
	Photos       []string `json:"photos"`
	LocationLat  *float64 `json:"location_lat"`
	LocationLon  *float64 `json:"location_lon"`
}

// GET /me/profile and PUT /me/profile
func meProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodGet:
			p, err := getProfile(db, userID)
			if err == sql.ErrNoRows {
				writeError(w, http.StatusNotFound, "no_profile")
				return
			} else if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, p)

		case http.MethodPut, http.MethodPost:
			var req profileUpdateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
			var birthDate *time.Time
			if req.BirthDate != "" {
				bd, err := time.Parse("2006-01-02", req.BirthDate)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_birth_date")
					return
				}
				birthDate = &bd
			}

			// A profile is complete once the identity basics are filled in;
			// only complete profiles enter discovery.
			isComplete := strings.TrimSpace(req.DisplayName) != "" &&
				birthDate != nil && strings.TrimSpace(req.Gender) != ""

			interestedIn, _ := json.Marshal(emptyIfNil(req.InterestedIn))
			lookingFor, _ := json.Marshal(emptyIfNil(req.LookingFor))
			interestTags, _ := json.Marshal(emptyIfNil(req.InterestTags))
			photos, _ := json.Marshal(emptyIfNil(req.Photos))

			_, err := db.Exec(`
				INSERT INTO profiles (user_id, display_name, birth_date, gender,
					interested_in, looking_for, interest_tags, photos,
					location_lat, location_lon, is_complete, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
				ON CONFLICT (user_id) DO UPDATE SET
					display_name = EXCLUDED.display_name,
					birth_date = EXCLUDED.birth_date,
					gender = EXCLUDED.gender,
					interested_in = EXCLUDED.interested_in,
					looking_for = EXCLUDED.looking_for,
					interest_tags = EXCLUDED.interest_tags,
					photos = EXCLUDED.photos,
					location_lat = EXCLUDED.location_lat,
					location_lon = EXCLUDED.location_lon,
					is_complete = EXCLUDED.is_complete,
					updated_at = NOW()
			`, userID, req.DisplayName, birthDate, req.Gender,
				interestedIn, lookingFor, interestTags, photos,
				req.LocationLat, req.LocationLon, isComplete)
			if err != nil {
				log.Println("meProfileHandler upsert error:", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"is_complete": isComplete})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Dispatcher for /users/* to route summary and block actions
func usersDispatcher(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		if len(parts) < 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		if len(parts) == 2 {
			userHandler(db).ServeHTTP(w, r)
			return
		}
		if len(parts) == 3 && parts[2] == "block" {
			switch r.Method {
			case http.MethodPost:
				blockUserHandler(db).ServeHTTP(w, r)
			case http.MethodDelete:
				unblockUserHandler(db).ServeHTTP(w, r)
			default:
				writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			}
			return
		}
		http.NotFound(w, r)
	}
}

// GET /users/{id} - public summary of a user: name, photo, online flag
func userHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		userID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}

		displayName, primaryPhoto, err := fetchBasicUserInfo(db, userID)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		online, err := isOnlineNow(db, userID)
		if err != nil {
			// Not critical. If fails, assume that the user is offline
			online = false
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":            userID,
			"display_name":  displayName,
			"primary_photo": primaryPhoto,
			"is_online":     online,
		})
	})
}

// POST /users/{id}/block
// Blocking dissolves any match with the target and removes both directional
// interest edges, so the pair can never silently re-match. The block row keeps
// them out of each other's feed until a human unblocks.
func blockUserHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
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

		var exists bool
		if err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, targetID).Scan(&exists); err != nil || !exists {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		err = withTx(r.Context(), db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				INSERT INTO blocks (user_id, blocked_user_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, me, targetID); err != nil {
				return err
			}
			return dissolvePair(tx, me, targetID)
		})
		if err != nil {
			log.Println("blockUserHandler tx error:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]bool{"blocked": true})
	})
}

// DELETE /users/{id}/block - re-admit a previously blocked user
func unblockUserHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := r.Context().Value(userIDKey).(int)

		_, err = db.Exec(`DELETE FROM blocks WHERE user_id = $1 AND blocked_user_id = $2`, me, targetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
