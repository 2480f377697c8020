package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey(t *testing.T) {
	assert.Equal(t, "3:9", pairKey(9, 3))
	assert.Equal(t, "3:9", pairKey(3, 9))
}

func TestMatchMaterializerSuite(t *testing.T) {
	ctx := context.Background()

	userA := createTestUser(t, "mat_a@example.com", "test1234")
	userB := createTestUser(t, "mat_b@example.com", "test1234")
	defer cleanupTestData(userA.Email, userB.Email)

	profileA := getDefaultTestProfile()
	profileA.DisplayName = "Alice"
	profileA.Photos = []string{"alice_1.jpg", "alice_2.jpg"}
	profileB := getDefaultTestProfile()
	profileB.DisplayName = "Bella"
	profileB.Photos = nil
	createTestProfile(t, userA, profileA)
	createTestProfile(t, userB, profileB)

	t.Run("CreateThenIdempotentReturn", func(t *testing.T) {
		match, created, err := materializeIfAbsent(ctx, db, userA.ID, userB.ID)
		require.NoError(t, err)
		require.True(t, created)
		require.NotNil(t, match)
		assert.Equal(t, pairKey(userA.ID, userB.ID), match.PairKey)

		// Snapshots taken at creation time, unread counters zeroed
		names := []string{match.NameLo, match.NameHi}
		assert.Contains(t, names, "Alice")
		assert.Contains(t, names, "Bella")
		photos := []string{match.PhotoLo, match.PhotoHi}
		assert.Contains(t, photos, "alice_1.jpg")
		assert.Contains(t, photos, "avatar_placeholder.png")
		assert.Zero(t, match.UnreadLo)
		assert.Zero(t, match.UnreadHi)

		// The conversation channel exists with the same identity
		var exists bool
		require.NoError(t, db.QueryRow(
			`SELECT EXISTS (SELECT 1 FROM channels WHERE pair_key = $1)`, match.PairKey).Scan(&exists))
		assert.True(t, exists)

		// Second call (either argument order) returns the same match
		again, created, err := materializeIfAbsent(ctx, db, userB.ID, userA.ID)
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, again)
		assert.Equal(t, match.PairKey, again.PairKey)

		var count int
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM matches WHERE pair_key = $1`, match.PairKey).Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("ConcurrentMaterializeCreatesExactlyOne", func(t *testing.T) {
		userC := createTestUser(t, "mat_c@example.com", "test1234")
		userD := createTestUser(t, "mat_d@example.com", "test1234")
		defer cleanupTestData(userC.Email, userD.Email)
		createTestProfile(t, userC, getDefaultTestProfile())
		createTestProfile(t, userD, getDefaultTestProfile())

		const racers = 8
		var wg sync.WaitGroup
		createdCount := make(chan bool, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(flip bool) {
				defer wg.Done()
				a, b := userC.ID, userD.ID
				if flip {
					a, b = b, a
				}
				_, created, err := materializeIfAbsent(ctx, db, a, b)
				if err != nil {
					t.Error("materializeIfAbsent:", err)
					return
				}
				createdCount <- created
			}(i%2 == 0)
		}
		wg.Wait()
		close(createdCount)

		creations := 0
		for created := range createdCount {
			if created {
				creations++
			}
		}
		assert.Equal(t, 1, creations, "exactly one racer creates the match")
	})

	t.Run("BlockedPairNeverMaterializes", func(t *testing.T) {
		userE := createTestUser(t, "mat_e@example.com", "test1234")
		userF := createTestUser(t, "mat_f@example.com", "test1234")
		defer cleanupTestData(userE.Email, userF.Email)
		createTestProfile(t, userE, getDefaultTestProfile())
		createTestProfile(t, userF, getDefaultTestProfile())

		_, err := db.Exec(`INSERT INTO blocks (user_id, blocked_user_id) VALUES ($1, $2)`, userF.ID, userE.ID)
		require.NoError(t, err)

		match, created, err := materializeIfAbsent(ctx, db, userE.ID, userF.ID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Nil(t, match)
	})

	t.Run("DissolveDeletesMatchChannelAndEdges", func(t *testing.T) {
		require.NoError(t, recordDecision(db, userA.ID, userB.ID, DecisionInterested))
		require.NoError(t, recordDecision(db, userB.ID, userA.ID, DecisionInterested))

		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, dissolvePair(tx, userA.ID, userB.ID))
		require.NoError(t, tx.Commit())

		key := pairKey(userA.ID, userB.ID)
		var matchCount, channelCount, edgeCount int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM matches WHERE pair_key = $1`, key).Scan(&matchCount))
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM channels WHERE pair_key = $1`, key).Scan(&channelCount))
		require.NoError(t, db.QueryRow(`
			SELECT COUNT(*) FROM interest_edges
			WHERE (actor_id = $1 AND target_id = $2) OR (actor_id = $2 AND target_id = $1)
		`, userA.ID, userB.ID).Scan(&edgeCount))
		assert.Zero(t, matchCount)
		assert.Zero(t, channelCount)
		assert.Zero(t, edgeCount)

		// No poison state: a fresh mutual sequence can match again
		match, created, err := materializeIfAbsent(ctx, db, userA.ID, userB.ID)
		require.NoError(t, err)
		assert.True(t, created)
		require.NotNil(t, match)

		// cleanup for other suites
		tx, err = db.Begin()
		require.NoError(t, err)
		require.NoError(t, dissolvePair(tx, userA.ID, userB.ID))
		require.NoError(t, tx.Commit())
	})
}
