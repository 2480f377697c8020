package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLivenessLoader(t *testing.T) {
	fresh := createTestUser(t, "loader_fresh@example.com", "test1234")
	stale := createTestUser(t, "loader_stale@example.com", "test1234")
	defer cleanupTestData(fresh.Email, stale.Email)

	_, err := db.Exec(`UPDATE users SET last_online = NOW() WHERE id = $1`, fresh.ID)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE users SET last_online = NOW() - INTERVAL '10 minutes' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	ctx := context.Background()
	loaders := NewDataLoaders(db)

	// Thunks issued together so the loader batches them into one query
	freshThunk := loaders.UserLoader.Load(ctx, fresh.ID)
	staleThunk := loaders.UserLoader.Load(ctx, stale.ID)
	missingThunk := loaders.UserLoader.Load(ctx, -1)

	got, err := freshThunk()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsOnline())

	got, err = staleThunk()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsOnline())

	got, err = missingThunk()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChannelSummaryLoader(t *testing.T) {
	alice := createTestUser(t, "loader_alice@example.com", "test1234")
	bob := createTestUser(t, "loader_bob@example.com", "test1234")
	defer cleanupTestData(alice.Email, bob.Email)
	createTestProfile(t, alice, getDefaultTestProfile())
	createTestProfile(t, bob, getDefaultTestProfile())

	matchUpTestPair(t, alice, bob)
	_, key, sentAt, err := saveChatMsg(db, alice.ID, bob.ID, "ping")
	require.NoError(t, err)

	loaders := NewDataLoaders(db)
	summary, err := loaders.ChannelLoader.Load(context.Background(), key)()
	require.NoError(t, err)
	require.NotNil(t, summary.LastMessageAt)
	assert.WithinDuration(t, sentAt, *summary.LastMessageAt, 0)

	// A channel with no traffic resolves with a nil timestamp
	quiet, err := loaders.ChannelLoader.Load(context.Background(), "0:0")()
	require.NoError(t, err)
	assert.Nil(t, quiet.LastMessageAt)
}

func TestMatchesListHydration(t *testing.T) {
	alice := createTestUser(t, "hydrate_alice@example.com", "test1234")
	bob := createTestUser(t, "hydrate_bob@example.com", "test1234")
	defer cleanupTestData(alice.Email, bob.Email)
	createTestProfile(t, alice, getDefaultTestProfile())
	createTestProfile(t, bob, getDefaultTestProfile())

	matchUpTestPair(t, alice, bob)
	_, _, _, err := saveChatMsg(db, bob.ID, alice.ID, "hello")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/matches", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	w := httptest.NewRecorder()
	DataLoaderMiddleware(db)(matchesHandler(db)).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Matches []MatchSummary `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Matches, 1)

	s := resp.Matches[0]
	assert.Equal(t, bob.ID, s.PeerID)
	assert.Equal(t, "Test User", s.PeerName)
	assert.Equal(t, 1, s.UnreadCount)
	require.NotNil(t, s.LastMessageAt, "hydrated from the channel loader")
}

func TestPresencePing(t *testing.T) {
	user := createTestUser(t, "presence_ping@example.com", "test1234")
	defer cleanupTestData(user.Email)

	_, err := db.Exec(`UPDATE users SET last_online = NOW() - INTERVAL '1 hour' WHERE id = $1`, user.ID)
	require.NoError(t, err)

	online, err := isOnlineNow(db, user.ID)
	require.NoError(t, err)
	require.False(t, online)

	req := httptest.NewRequest(http.MethodPost, "/me/ping", nil)
	req.Header.Set("Authorization", "Bearer "+user.Token)
	w := httptest.NewRecorder()
	mePingHandler(db).ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code, fmt.Sprintf("ping response: %s", w.Body.String()))

	online, err = isOnlineNow(db, user.ID)
	require.NoError(t, err)
	assert.True(t, online)
}
