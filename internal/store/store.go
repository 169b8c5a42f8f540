package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nbd-wtf/go-nostr"
)

// Directory remembers channel creation events seen on each relay so the
// chat menu can offer them when a relay no longer returns them
type Directory struct {
	db *sql.DB
}

// Open opens or creates the SQLite directory at path
func Open(path string) (*Directory, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createChannelsTable := `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT NOT NULL,
		relay TEXT NOT NULL,
		pubkey TEXT,
		created_at INTEGER,
		event TEXT,
		seen_at DATETIME,
		PRIMARY KEY (id, relay)
	);`

	if _, err := db.Exec(createChannelsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create channels table: %w", err)
	}

	return &Directory{db: db}, nil
}

// SaveChannel records root as seen on relayURL, replacing an earlier copy
func (d *Directory) SaveChannel(ctx context.Context, relayURL string, root nostr.Event) error {
	raw, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO channels (id, relay, pubkey, created_at, event, seen_at) VALUES (?, ?, ?, ?, ?, ?)`,
		root.ID, relayURL, root.PubKey, int64(root.CreatedAt), string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}
	return nil
}

// Channels returns the channels seen on relayURL, oldest first. When ids
// is non-empty only those channels are returned.
func (d *Directory) Channels(ctx context.Context, relayURL string, ids ...string) ([]nostr.Event, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, event FROM channels WHERE relay = ? ORDER BY created_at, id`, relayURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var channels []nostr.Event
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		if len(want) > 0 && !want[id] {
			continue
		}
		var evt nostr.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("failed to decode channel %s: %w", id, err)
		}
		channels = append(channels, evt)
	}
	return channels, rows.Err()
}

// Close closes the database
func (d *Directory) Close() error {
	return d.db.Close()
}
