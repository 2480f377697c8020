package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterestLedgerSuite(t *testing.T) {
	userA := createTestUser(t, "ledger_a@example.com", "test1234")
	userB := createTestUser(t, "ledger_b@example.com", "test1234")
	userC := createTestUser(t, "ledger_c@example.com", "test1234")
	defer cleanupTestData(userA.Email, userB.Email, userC.Email)

	t.Run("RecordAndOverwrite", func(t *testing.T) {
		require.NoError(t, recordDecision(db, userA.ID, userB.ID, DecisionInterested))

		// Changing one's mind overwrites the edge instead of appending
		require.NoError(t, recordDecision(db, userA.ID, userB.ID, DecisionPassed))

		var decision string
		var count int
		require.NoError(t, db.QueryRow(`
			SELECT decision, (SELECT COUNT(*) FROM interest_edges WHERE actor_id = $1 AND target_id = $2)
			FROM interest_edges WHERE actor_id = $1 AND target_id = $2
		`, userA.ID, userB.ID).Scan(&decision, &count))
		assert.Equal(t, DecisionPassed, decision)
		assert.Equal(t, 1, count)
	})

	t.Run("RejectsUnknownDecision", func(t *testing.T) {
		assert.Error(t, recordDecision(db, userA.ID, userB.ID, "maybe"))
	})

	t.Run("ReciprocityIsDirectional", func(t *testing.T) {
		require.NoError(t, recordDecision(db, userB.ID, userC.ID, DecisionInterested))

		// B -> C exists, so from C's point of view the reverse edge is there
		got, err := hasReciprocal(db, userC.ID, userB.ID)
		require.NoError(t, err)
		assert.True(t, got)

		// ...but not from B's point of view (C has not decided)
		got, err = hasReciprocal(db, userB.ID, userC.ID)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("PassedNeverCountsAsReciprocal", func(t *testing.T) {
		require.NoError(t, recordDecision(db, userC.ID, userA.ID, DecisionPassed))
		got, err := hasReciprocal(db, userA.ID, userC.ID)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("ListDecidedTargets", func(t *testing.T) {
		decided, err := listDecidedTargets(db, userA.ID)
		require.NoError(t, err)
		assert.Contains(t, decided, userB.ID)
		assert.NotContains(t, decided, userC.ID)
	})

	t.Run("DeletePairEdgesRemovesBothDirections", func(t *testing.T) {
		require.NoError(t, recordDecision(db, userA.ID, userC.ID, DecisionInterested))
		require.NoError(t, recordDecision(db, userC.ID, userA.ID, DecisionInterested))

		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, deletePairEdges(tx, userA.ID, userC.ID))
		require.NoError(t, tx.Commit())

		var n int
		require.NoError(t, db.QueryRow(`
			SELECT COUNT(*) FROM interest_edges
			WHERE (actor_id = $1 AND target_id = $2) OR (actor_id = $2 AND target_id = $1)
		`, userA.ID, userC.ID).Scan(&n))
		assert.Zero(t, n)
	})
}
