package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ServerEvent represents a server-sent event
type ServerEvent struct {
	Type string `json:"type"` // "message" | "typing" | "match_created" | "info" | "error"
	From int    `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	userID int
	conn   *websocket.Conn
	send   chan ServerEvent
	db     *sql.DB
}

// Hub manages WebSocket client connections
type Hub struct {
	clientsByUser map[int]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[int]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) sendToUser(userID int, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if peers, ok := h.clientsByUser[userID]; ok {
		for c := range peers {
			select {
			case c.send <- evt:
			default:
				// Drop message if user's buffer is full
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// For development: allow the Vite dev origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// global hub
var chatHub = newHub()

// GET /ws - realtime socket carrying chat relay and match_created pushes
func wsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS upgrade error for user %d: %v", userID, err)
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
			db:     db,
		}
		chatHub.register(client)

		// Announce connection to this client
		client.send <- ServerEvent{Type: "info", Data: "connected"}

		// Start writer
		go clientWriter(client)
		// Start reader (blocks)
		clientReader(client)
	}
}

// Extract user ID from Authorization header or, for browsers that cannot set
// headers on websocket dials, from the token query param.
func getUserIDFromRequest(r *http.Request) (int, bool) {
	if id, ok := getUserIDFromBearer(r); ok {
		return id, true
	}
	q := r.URL.Query().Get("token")
	if q != "" {
		return parseUserIDFromJWT(q)
	}
	return 0, false
}

func clientReader(c *Client) {
	defer func() {
		chatHub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.send <- ServerEvent{Type: "error", Data: "invalid message format"}
			continue
		}

		switch msg.Type {
		case "message":
			id, key, ts, err := saveChatMsg(c.db, c.userID, msg.To, msg.Body)
			if err != nil {
				c.send <- ServerEvent{Type: "error", Data: "cannot send message"}
				continue
			}

			out := ServerEvent{
				Type: "message",
				From: c.userID,
				Data: ChatMessage{
					ID:      id,
					Type:    "message",
					PairKey: key,
					From:    c.userID,
					To:      msg.To,
					Body:    msg.Body,
					Ts:      ts,
				},
			}
			// minimal relay: send to recipient and echo back to sender
			chatHub.sendToUser(msg.To, out)
			chatHub.sendToUser(c.userID, out)

		case "typing":
			// notify recipient that sender is typing
			chatHub.sendToUser(msg.To, ServerEvent{Type: "typing", From: c.userID})

		default:
			c.send <- ServerEvent{Type: "error", Data: "unknown message type"}
		}
	}
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// saveChatMsg stores a message in the pair's conversation channel. The channel
// only exists while the match does, so messaging a non-match fails here.
// The recipient's unread counter on the match row is bumped in the same
// transaction.
func saveChatMsg(db *sql.DB, fromUserID, toUserID int, body string) (int64, string, time.Time, error) {
	key := pairKey(fromUserID, toUserID)

	tx, err := db.Begin()
	if err != nil {
		return 0, "", time.Time{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			_ = tx.Commit()
		}
	}()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM channels WHERE pair_key = $1`, key).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			err = fmt.Errorf("no conversation channel for pair %s", key)
		}
		return 0, "", time.Time{}, err
	}

	var id int64
	var ts time.Time
	err = tx.QueryRow(`
		INSERT INTO messages (pair_key, sender_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, key, fromUserID, body).Scan(&id, &ts)
	if err != nil {
		return 0, "", time.Time{}, err
	}

	_, err = tx.Exec(`
		UPDATE matches
		SET unread_lo = unread_lo + CASE WHEN user_lo = $2 THEN 1 ELSE 0 END,
		    unread_hi = unread_hi + CASE WHEN user_hi = $2 THEN 1 ELSE 0 END
		WHERE pair_key = $1
	`, key, toUserID)
	if err != nil {
		return 0, "", time.Time{}, err
	}

	return id, key, ts, nil
}

// Dispatcher for /channels/*
func channelsDispatcher(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		if len(parts) < 2 || parts[0] != "channels" {
			http.NotFound(w, r)
			return
		}
		if len(parts) == 2 && parts[1] == "read" {
			channelsMarkReadHandler(db).ServeHTTP(w, r)
			return
		}
		if len(parts) == 3 && parts[2] == "messages" {
			channelHistoryHandler(db).ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

// GET /channels/{peerID}/messages?limit=50
func channelHistoryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		peerID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := r.Context().Value(userIDKey).(int)
		key := pairKey(me, peerID)

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		// The channel lives and dies with the match
		var exists int
		err = db.QueryRow(`SELECT 1 FROM channels WHERE pair_key = $1`, key).Scan(&exists)
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "not_found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		rows, err := db.Query(`
			SELECT id, sender_id, body, created_at
			FROM messages
			WHERE pair_key = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, key, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		messages := make([]ChatMessage, 0, limit)
		for rows.Next() {
			var m ChatMessage
			if err := rows.Scan(&m.ID, &m.From, &m.Body, &m.Ts); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			m.Type = "message"
			m.PairKey = key
			messages = append(messages, m)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		// Oldest first for rendering
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		writeJSON(w, http.StatusOK, map[string][]ChatMessage{"messages": messages})
	})
}

// POST /channels/read?peer_id=123
// Acks that the messages from peer have been read in the active channel.
func channelsMarkReadHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		me := r.Context().Value(userIDKey).(int)
		peerID, err := strconv.Atoi(r.URL.Query().Get("peer_id"))
		if err != nil || peerID <= 0 {
			writeError(w, http.StatusBadRequest, "bad_peer_id")
			return
		}
		key := pairKey(me, peerID)

		// Mark the messages from peer as read
		_, _ = db.Exec(`
			UPDATE messages
			SET is_read = TRUE
			WHERE pair_key = $1 AND sender_id = $2 AND is_read IS FALSE
		`, key, peerID)

		// Reset my unread counter on the match row
		_, _ = db.Exec(`
			UPDATE matches
			SET unread_lo = CASE WHEN user_lo = $2 THEN 0 ELSE unread_lo END,
			    unread_hi = CASE WHEN user_hi = $2 THEN 0 ELSE unread_hi END
			WHERE pair_key = $1
		`, key, me)

		w.WriteHeader(http.StatusNoContent)
	})
}
