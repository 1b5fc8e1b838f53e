// Package ledger implements the durable, append-only message log that
// backs one cluster. Storage is a single SQLite database file per
// cluster, opened in WAL mode so the bus can append while other readers
// (export, TUI, tests) query concurrently.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zeroshot-run/zeroshot/internal/message"
	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster_id TEXT NOT NULL,
	topic      TEXT NOT NULL,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT,
	timestamp  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_cluster_topic ON messages(cluster_id, topic);
CREATE INDEX IF NOT EXISTS idx_messages_cluster_sender ON messages(cluster_id, sender);
CREATE INDEX IF NOT EXISTS idx_messages_cluster_order ON messages(cluster_id, timestamp, id);
`

// Ledger is the durable, per-cluster message store.
type Ledger struct {
	db        *sql.DB
	clusterID string
}

// Open creates or reuses the database file at path and ensures the schema
// exists. clusterID is recorded on the handle; Append and Query are scoped
// by the cluster id carried in each message or QueryOptions instead.
func Open(ctx context.Context, path, clusterID string) (*Ledger, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, zerrors.NewStorageError("open", err)
	}
	// SQLite tolerates exactly one writer; keep the pool to one connection
	// so appends from concurrent goroutines serialize instead of racing
	// the driver's own locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, zerrors.NewStorageError("ping", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, zerrors.NewStorageError("init schema", err)
	}
	return &Ledger{db: db, clusterID: clusterID}, nil
}

// Close releases the underlying database handle. Close is idempotent.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Append persists msg, assigning ID (monotonic within this database) and
// Timestamp (if zero) before storing. It returns the stored form.
func (l *Ledger) Append(ctx context.Context, msg message.Message) (message.Message, error) {
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return message.Message{}, err
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = message.NowMillis()
	}

	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return message.Message{}, zerrors.NewStorageError("encode content", err)
	}
	var metadataJSON sql.NullString
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return message.Message{}, zerrors.NewStorageError("encode metadata", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO messages (cluster_id, topic, sender, receiver, content, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ClusterID, msg.Topic, msg.Sender, msg.Receiver, string(contentJSON), metadataJSON, msg.Timestamp,
	)
	if err != nil {
		return message.Message{}, zerrors.NewStorageError("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return message.Message{}, zerrors.NewStorageError("read insert id", err)
	}
	msg.ID = id
	return msg, nil
}

// QueryOptions filters a Query call. ClusterID is always required; the
// remaining fields are applied only when non-zero/non-empty.
type QueryOptions struct {
	ClusterID string
	Topic     string
	Sender    string
	Since     *int64 // inclusive lower bound on timestamp
	Limit     int    // 0 means unbounded
	Order     string // "asc" (default) or "desc"
}

// Query returns messages matching all supplied filters, ordered by
// (timestamp, id).
func (l *Ledger) Query(ctx context.Context, opts QueryOptions) ([]message.Message, error) {
	clauses := []string{"cluster_id = ?"}
	args := []any{opts.ClusterID}
	if opts.Topic != "" {
		clauses = append(clauses, "topic = ?")
		args = append(args, opts.Topic)
	}
	if opts.Sender != "" {
		clauses = append(clauses, "sender = ?")
		args = append(args, opts.Sender)
	}
	if opts.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *opts.Since)
	}

	direction := "ASC"
	if opts.Order == "desc" {
		direction = "DESC"
	}

	query := fmt.Sprintf(
		"SELECT id, cluster_id, topic, sender, receiver, content, metadata, timestamp FROM messages WHERE %s ORDER BY timestamp %s, id %s",
		joinClauses(clauses), direction, direction,
	)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, zerrors.NewStorageError("query", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, zerrors.NewStorageError("scan row", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, zerrors.NewStorageError("iterate rows", err)
	}
	return out, nil
}

// FindLast returns the most recent message matching the given filters, or
// nil if none exists.
func (l *Ledger) FindLast(ctx context.Context, opts QueryOptions) (*message.Message, error) {
	opts.Order = "desc"
	opts.Limit = 1
	msgs, err := l.Query(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// MessageHandler processes one newly observed message. Returning an error
// does not stop polling and the error is discarded: the handler is
// responsible for its own error logging.
type MessageHandler func(message.Message) error

// PollForMessages starts a background goroutine that periodically queries
// for messages with id greater than the highest one already delivered,
// invoking onMessage for each in order. Before it returns, it delivers up
// to backlog of the most recent historical messages (none when backlog is
// zero or negative). The returned function stops the poller.
func (l *Ledger) PollForMessages(ctx context.Context, clusterID string, onMessage MessageHandler, interval time.Duration, backlog int) (stop func(), err error) {
	if interval <= 0 {
		interval = time.Second
	}
	pollCtx, cancel := context.WithCancel(ctx)

	lastID, lastErr := l.highestID(pollCtx, clusterID, backlog, onMessage)
	if lastErr != nil {
		cancel()
		return nil, lastErr
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				lastID = l.deliverSince(pollCtx, clusterID, lastID, onMessage)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (l *Ledger) highestID(ctx context.Context, clusterID string, backlog int, onMessage MessageHandler) (int64, error) {
	opts := QueryOptions{ClusterID: clusterID, Order: "asc"}
	if backlog > 0 {
		opts.Order = "desc"
		opts.Limit = backlog
	}
	msgs, err := l.Query(ctx, opts)
	if err != nil {
		return 0, err
	}
	if opts.Order == "desc" {
		reverse(msgs)
	}
	var lastID int64
	for _, msg := range msgs {
		if onMessage != nil && backlog > 0 {
			_ = onMessage(msg)
		}
		if msg.ID > lastID {
			lastID = msg.ID
		}
	}
	return lastID, nil
}

func (l *Ledger) deliverSince(ctx context.Context, clusterID string, lastID int64, onMessage MessageHandler) int64 {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, cluster_id, topic, sender, receiver, content, metadata, timestamp
		 FROM messages WHERE cluster_id = ? AND id > ? ORDER BY id ASC`,
		clusterID, lastID,
	)
	if err != nil {
		return lastID
	}
	defer rows.Close()
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			continue
		}
		if onMessage != nil {
			_ = onMessage(msg)
		}
		if msg.ID > lastID {
			lastID = msg.ID
		}
	}
	return lastID
}

func reverse(msgs []message.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rows rowScanner) (message.Message, error) {
	var (
		msg          message.Message
		contentJSON  string
		metadataJSON sql.NullString
	)
	if err := rows.Scan(&msg.ID, &msg.ClusterID, &msg.Topic, &msg.Sender, &msg.Receiver, &contentJSON, &metadataJSON, &msg.Timestamp); err != nil {
		return message.Message{}, err
	}
	if err := json.Unmarshal([]byte(contentJSON), &msg.Content); err != nil {
		return message.Message{}, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return message.Message{}, err
		}
	}
	return msg, nil
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
