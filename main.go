package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

// JWT secret from environment variable or fallback
func getJWTSecret() []byte {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("your_secret_key_please_change_in_production")
}

var jwtSecret = getJWTSecret()

func main() {
	initDB()

	ceilings = &tierResolver{db: db}

	if v := os.Getenv("FEED_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			feedBatchSize = n
		}
	}

	sweep := time.Hour
	if v := os.Getenv("QUOTA_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sweep = d
		}
	}
	startQuotaJanitor(db, sweep)

	// Forward match events to connected websocket clients
	bridgeMatchEvents(chatHub)

	mux := http.NewServeMux()

	// Core auth & user endpoints
	mux.Handle("/register", registerHandler(db))
	mux.Handle("/login", loginHandler(db))
	mux.Handle("/me", meHandler(db))
	mux.Handle("/me/profile", meProfileHandler(db))

	// Ping: mark this user as online "now"
	mux.Handle("/me/ping", mePingHandler(db)) // POST

	// Discovery & swipes
	mux.Handle("/feed", feedHandler(db)) // GET /feed
	mux.Handle("/swipes/", swipesRouter(db))

	// Matches (list hydrated through per-request dataloaders)
	matchList := DataLoaderMiddleware(db)(matchesHandler(db))
	mux.Handle("/matches", matchList)                 // GET /matches
	mux.Handle("/matches/", matchesActionsRouter(db)) // DELETE /matches/{peerID}

	// Users dispatcher (summary, block/unblock)
	mux.Handle("/users/", usersDispatcher(db))

	// Conversation channels
	mux.Handle("/channels/", channelsDispatcher(db))

	// WebSocket endpoint: chat relay + match_created pushes
	mux.Handle("/ws", wsHandler(db))

	// Health check endpoint for Docker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Default().Println("Starting Spark backend on port " + port + "...")
	http.ListenAndServe(":"+port, withCORS(mux))
}
