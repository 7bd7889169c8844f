// Package cache keeps a derived, git-ignored libsql copy of the durable index
// for queries the JSON document is awkward at.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lithammer/fuzzysearch/fuzzy"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/entrepeneur4lyf/tig/internal/index"
	"github.com/entrepeneur4lyf/tig/internal/session"
)

// schema is executed one statement at a time; the libsql driver only runs
// the first statement of a multi-statement Exec.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	number INTEGER NOT NULL,
	prompt TEXT NOT NULL,
	response TEXT NOT NULL,
	user_id TEXT,
	user_email TEXT,
	status TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT,
	conversation_commit TEXT,
	message_count INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	description TEXT NOT NULL,
	file_path TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	sequence_number INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS file_conversations (
	file_path TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (file_path, conversation_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_conversation ON snapshots(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_file_conversations_path ON file_conversations(file_path)`,
}

// Conversation is a cached conversation row.
type Conversation struct {
	ID                 string
	Prompt             string
	Response           string
	UserID             string
	UserEmail          string
	Status             string
	StartTime          time.Time
	ConversationCommit string
	MessageCount       int
}

// Match is a search hit; lower Rank is closer.
type Match struct {
	Conversation
	Rank int
}

// Store is the libsql-backed cache.
type Store struct {
	db *sql.DB
}

// Open opens or creates the cache database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Rebuild replaces the cache contents with idx.
func (s *Store) Rebuild(ctx context.Context, idx *index.Index) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"conversations", "snapshots", "file_conversations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, c := range idx.Conversations {
		var end, commit sql.NullString
		if c.EndTime != nil {
			end = sql.NullString{String: c.EndTime.Format(time.RFC3339Nano), Valid: true}
		}
		if c.ConversationCommit != nil {
			commit = sql.NullString{String: *c.ConversationCommit, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, number, prompt, response, user_id, user_email, status, start_time, end_time, conversation_commit, message_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, session.ParseID(c.ID, "conv_"), c.Prompt, c.Response, c.UserID, c.UserEmail, string(c.Status),
			c.StartTime.Format(time.RFC3339Nano), end, commit, c.MessageCount)
		if err != nil {
			return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
		}
	}

	for _, snap := range idx.Snapshots {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (id, conversation_id, description, file_path, commit_hash, timestamp, sequence_number)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.ConversationID, snap.Description, snap.FilePath, snap.Commit,
			snap.Timestamp.Format(time.RFC3339Nano), snap.SequenceNumber)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot %s: %w", snap.ID, err)
		}
	}

	for path, ids := range idx.FileIndex {
		for i, id := range ids {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO file_conversations (file_path, conversation_id, position) VALUES (?, ?, ?)`,
				path, id, i)
			if err != nil {
				return fmt.Errorf("failed to insert file index for %s: %w", path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	log.Debug("Rebuilt query cache", "conversations", len(idx.Conversations), "snapshots", len(idx.Snapshots))
	return nil
}

const conversationColumns = `c.id, c.prompt, c.response, COALESCE(c.user_id, ''), COALESCE(c.user_email, ''),
	c.status, c.start_time, COALESCE(c.conversation_commit, ''), c.message_count`

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var start string
		if err := rows.Scan(&c.ID, &c.Prompt, &c.Response, &c.UserID, &c.UserEmail,
			&c.Status, &start, &c.ConversationCommit, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.StartTime, _ = time.Parse(time.RFC3339Nano, start)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Search returns conversations whose prompt or response fuzzily contains
// query, closest first, newest first among equals. limit <= 0 means no limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations c ORDER BY c.number DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	convs, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	var matches []Match
	for _, c := range convs {
		rank := bestRank(query, c.Prompt, c.Response)
		if rank < 0 {
			continue
		}
		matches = append(matches, Match{Conversation: c, Rank: rank})
	}

	// stable keeps the newest-first order among equal ranks
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Rank < matches[j].Rank })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func bestRank(query string, texts ...string) int {
	best := -1
	for _, text := range texts {
		if !fuzzy.MatchFold(query, text) {
			continue
		}
		r := fuzzy.RankMatchFold(query, text)
		if best < 0 || r < best {
			best = r
		}
	}
	return best
}

// FileConversations lists the conversations that touched path, in the order
// they were recorded.
func (s *Store) FileConversations(ctx context.Context, path string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM file_conversations f JOIN conversations c ON c.id = f.conversation_id
		 WHERE f.file_path = ?
		 ORDER BY f.position`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query file conversations: %w", err)
	}
	return scanConversations(rows)
}

// Snapshots lists a conversation's snapshots by sequence.
func (s *Store) Snapshots(ctx context.Context, conversationID string) ([]index.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, description, file_path, commit_hash, timestamp, sequence_number
		 FROM snapshots WHERE conversation_id = ? ORDER BY sequence_number`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []index.Snapshot
	for rows.Next() {
		var snap index.Snapshot
		var ts string
		if err := rows.Scan(&snap.ID, &snap.ConversationID, &snap.Description, &snap.FilePath,
			&snap.Commit, &ts, &snap.SequenceNumber); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RebuildFromFile loads the index at indexPath and rebuilds the cache at
// dbPath from it.
func RebuildFromFile(ctx context.Context, indexPath, dbPath string) error {
	idx, err := index.Load(indexPath)
	if err != nil {
		return err
	}
	store, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Rebuild(ctx, idx)
}
