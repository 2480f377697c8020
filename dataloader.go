package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/lib/pq"
)

// DataLoaderContextKey is the key used to store dataloaders in context
type DataLoaderContextKey string

const dataLoaderKey DataLoaderContextKey = "dataloader"

// UserLiveness is what the user loader resolves: the peer's online flag,
// computed in SQL with the same 90-second freshness window as isOnlineNow.
type UserLiveness struct {
	ID     int
	Online bool
}

func (u *UserLiveness) IsOnline() bool { return u.Online }

// ChannelSummary is what the channel loader resolves per pair key.
type ChannelSummary struct {
	PairKey       string
	LastMessageAt *time.Time
}

// DataLoaders holds the per-request batched loaders used to hydrate list
// responses without N+1 queries.
type DataLoaders struct {
	UserLoader    *dataloader.Loader[int, *UserLiveness]
	ChannelLoader *dataloader.Loader[string, *ChannelSummary]
}

// NewDataLoaders creates new dataloaders with the database connection
func NewDataLoaders(db *sql.DB) *DataLoaders {
	return &DataLoaders{
		UserLoader:    dataloader.NewBatchedLoader(userLivenessBatchFn(db), dataloader.WithWait[int, *UserLiveness](16*time.Millisecond)),
		ChannelLoader: dataloader.NewBatchedLoader(channelSummaryBatchFn(db), dataloader.WithWait[string, *ChannelSummary](16*time.Millisecond)),
	}
}

// GetDataLoadersFromContext retrieves dataloaders from context
func GetDataLoadersFromContext(ctx context.Context) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return nil
}

// WithDataLoaders adds dataloaders to context
func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

func userLivenessBatchFn(db *sql.DB) dataloader.BatchFunc[int, *UserLiveness] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[*UserLiveness] {
		results := make([]*dataloader.Result[*UserLiveness], len(keys))
		for i := range keys {
			results[i] = &dataloader.Result[*UserLiveness]{}
		}
		if len(keys) == 0 {
			return results
		}

		keyIndex := make(map[int]int, len(keys))
		for i, key := range keys {
			keyIndex[key] = i
		}

		rows, err := db.QueryContext(ctx, `
			SELECT id, COALESCE(last_online > NOW() - INTERVAL '90 seconds', FALSE)
			FROM users
			WHERE id = ANY($1)
		`, pq.Array(keys))
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}
		defer rows.Close()

		for rows.Next() {
			var u UserLiveness
			if err := rows.Scan(&u.ID, &u.Online); err != nil {
				continue
			}
			if i, ok := keyIndex[u.ID]; ok {
				results[i].Data = &u
			}
		}
		return results
	}
}

func channelSummaryBatchFn(db *sql.DB) dataloader.BatchFunc[string, *ChannelSummary] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*ChannelSummary] {
		results := make([]*dataloader.Result[*ChannelSummary], len(keys))
		keyIndex := make(map[string]int, len(keys))
		for i, key := range keys {
			keyIndex[key] = i
			// Default: channel exists but has no messages yet
			results[i] = &dataloader.Result[*ChannelSummary]{Data: &ChannelSummary{PairKey: key}}
		}
		if len(keys) == 0 {
			return results
		}

		rows, err := db.QueryContext(ctx, `
			SELECT pair_key, MAX(created_at)
			FROM messages
			WHERE pair_key = ANY($1)
			GROUP BY pair_key
		`, pq.Array(keys))
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var last time.Time
			if err := rows.Scan(&key, &last); err != nil {
				continue
			}
			if i, ok := keyIndex[key]; ok {
				results[i].Data = &ChannelSummary{PairKey: key, LastMessageAt: &last}
			}
		}
		return results
	}
}

// DataLoaderMiddleware creates middleware that injects dataloaders into the request context
func DataLoaderMiddleware(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Create new dataloaders for each request to ensure freshness
			r = r.WithContext(WithDataLoaders(r.Context(), NewDataLoaders(db)))
			next.ServeHTTP(w, r)
		})
	}
}
