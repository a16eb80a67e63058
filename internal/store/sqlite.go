package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/livedesk/internal/domain"
	"github.com/ashureev/livedesk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. The driver takes
	// pragmas as _pragma=name(value) and applies them to every pooled
	// connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_connection_id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL,
		status TEXT NOT NULL,
		user_count INTEGER NOT NULL DEFAULT 0,
		last_update INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_domain_status ON agents(domain, status);

	CREATE TABLE IF NOT EXISTS users (
		user_connection_id TEXT PRIMARY KEY,
		user_id TEXT,
		user_name TEXT,
		agent_connection_id TEXT,
		connection_time INTEGER NOT NULL,
		disconnection_time INTEGER
	);

	CREATE TABLE IF NOT EXISTS conversations (
		user_connection_id TEXT PRIMARY KEY,
		agent_connection_id TEXT,
		user_name TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		last_update INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_agent_active ON conversations(agent_connection_id, active);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_connection_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		image TEXT,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(user_connection_id, id);

	CREATE TABLE IF NOT EXISTS queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		message TEXT NOT NULL,
		domain TEXT NOT NULL,
		status TEXT NOT NULL,
		resolved_by TEXT,
		agent_id TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queries_status ON queries(status, updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by connection ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	query := `
		SELECT agent_connection_id, agent_name, domain, status, user_count, last_update
		FROM agents WHERE agent_connection_id = ?`

	row := s.db.QueryRowContext(ctx, query, agentID)

	var agent domain.Agent
	var lastUpdate int64

	err := row.Scan(&agent.ConnectionID, &agent.Name, &agent.Domain, &agent.Status, &agent.UserCount, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}

	agent.LastUpdate = time.Unix(lastUpdate, 0)
	return &agent, nil
}

// UpsertAgent creates or updates an agent record.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *domain.Agent) error {
	query := `
	INSERT INTO agents (agent_connection_id, agent_name, domain, status, user_count, last_update)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(agent_connection_id) DO UPDATE SET
		agent_name = excluded.agent_name,
		domain = excluded.domain,
		status = excluded.status,
		last_update = excluded.last_update`

	_, err := s.db.ExecContext(ctx, query,
		agent.ConnectionID, agent.Name, agent.Domain,
		agent.Status, agent.UserCount, agent.LastUpdate.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// UpdateAgentStatus sets an agent's presence status.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus, at time.Time) error {
	query := `UPDATE agents SET status = ?, last_update = ? WHERE agent_connection_id = ?`
	result, err := s.db.ExecContext(ctx, query, status, at.Unix(), agentID)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateAgentStatus affected 0 rows", "agent_id", agentID, "status", status)
	}
	return nil
}

// AdjustAgentLoad adds delta to an agent's user count, floored at zero.
func (s *SQLiteStore) AdjustAgentLoad(ctx context.Context, agentID string, delta int, at time.Time) error {
	query := `UPDATE agents SET user_count = MAX(0, user_count + ?), last_update = ? WHERE agent_connection_id = ?`
	result, err := s.db.ExecContext(ctx, query, delta, at.Unix(), agentID)
	if err != nil {
		return fmt.Errorf("adjust agent load: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", agentID)
	}
	return nil
}

// OnlineAgents lists agents with status online in the given domain.
func (s *SQLiteStore) OnlineAgents(ctx context.Context, domainName string) ([]*domain.Agent, error) {
	query := `
		SELECT agent_connection_id, agent_name, domain, status, user_count, last_update
		FROM agents WHERE domain = ? AND status = ?`

	rows, err := s.db.QueryContext(ctx, query, domainName, domain.AgentOnline)
	if err != nil {
		return nil, fmt.Errorf("query online agents: %w", err)
	}
	defer closeRows(rows, "online agents")

	var agents []*domain.Agent
	for rows.Next() {
		var agent domain.Agent
		var lastUpdate int64
		if err := rows.Scan(&agent.ConnectionID, &agent.Name, &agent.Domain, &agent.Status, &agent.UserCount, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan online agent row: %w", err)
		}
		agent.LastUpdate = time.Unix(lastUpdate, 0)
		agents = append(agents, &agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate online agents: %w", err)
	}
	return agents, nil
}

// GetUser retrieves a user by connection ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_connection_id, user_id, user_name, agent_connection_id,
		       connection_time, disconnection_time
		FROM users WHERE user_connection_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var persistentID, userName, agentID sql.NullString
	var connectedAt int64
	var disconnectedAt sql.NullInt64

	err := row.Scan(&user.ConnectionID, &persistentID, &userName, &agentID, &connectedAt, &disconnectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.UserID = persistentID.String
	user.Name = userName.String
	user.AgentConnectionID = agentID.String
	user.ConnectedAt = time.Unix(connectedAt, 0)
	if disconnectedAt.Valid {
		ts := time.Unix(disconnectedAt.Int64, 0)
		user.DisconnectedAt = &ts
	}
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_connection_id, user_id, user_name, agent_connection_id, connection_time, disconnection_time)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_connection_id) DO UPDATE SET
		user_id = COALESCE(NULLIF(excluded.user_id, ''), users.user_id),
		user_name = COALESCE(NULLIF(excluded.user_name, ''), users.user_name),
		agent_connection_id = excluded.agent_connection_id,
		connection_time = excluded.connection_time,
		disconnection_time = excluded.disconnection_time`

	var disconnectedAt interface{}
	if user.DisconnectedAt != nil {
		disconnectedAt = user.DisconnectedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		user.ConnectionID, nullable(user.UserID), nullable(user.Name),
		nullable(user.AgentConnectionID), user.ConnectedAt.Unix(), disconnectedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// MarkUserConnected clears the disconnection stamp and records a fresh
// connection time.
func (s *SQLiteStore) MarkUserConnected(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET connection_time = ?, disconnection_time = NULL WHERE user_connection_id = ?`
	if _, err := s.db.ExecContext(ctx, query, at.Unix(), userID); err != nil {
		return fmt.Errorf("mark user connected: %w", err)
	}
	return nil
}

// MarkUserDisconnected records the user's disconnection time.
func (s *SQLiteStore) MarkUserDisconnected(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET disconnection_time = ? WHERE user_connection_id = ?`
	result, err := s.db.ExecContext(ctx, query, at.Unix(), userID)
	if err != nil {
		return fmt.Errorf("mark user disconnected: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("MarkUserDisconnected affected 0 rows", "user_id", userID)
	}
	return nil
}

// ActiveConversation returns the user's active conversation without its
// transcript.
func (s *SQLiteStore) ActiveConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	query := `
		SELECT user_connection_id, agent_connection_id, user_name, active, created_at, last_update
		FROM conversations WHERE user_connection_id = ? AND active = 1`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ActiveConversationsForAgent returns every active conversation bound to
// the agent, transcripts included.
func (s *SQLiteStore) ActiveConversationsForAgent(ctx context.Context, agentID string) ([]*domain.Conversation, error) {
	query := `
		SELECT user_connection_id, agent_connection_id, user_name, active, created_at, last_update
		FROM conversations WHERE agent_connection_id = ? AND active = 1`

	convs, err := s.queryConversations(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	if err := s.attachMessages(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ClosedConversationsForAgent returns a page of the agent's closed
// conversations, newest first, transcripts included, plus the total count.
func (s *SQLiteStore) ClosedConversationsForAgent(ctx context.Context, agentID string, limit, offset int) ([]*domain.Conversation, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM conversations WHERE agent_connection_id = ? AND active = 0`
	if err := s.db.QueryRowContext(ctx, countQuery, agentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count closed conversations: %w", err)
	}

	query := `
		SELECT user_connection_id, agent_connection_id, user_name, active, created_at, last_update
		FROM conversations
		WHERE agent_connection_id = ? AND active = 0
		ORDER BY last_update DESC
		LIMIT ? OFFSET ?`

	convs, err := s.queryConversations(ctx, query, agentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachMessages(ctx, convs); err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// AbandonedConversations returns active conversations whose user
// disconnected before the threshold and has not reconnected.
func (s *SQLiteStore) AbandonedConversations(ctx context.Context, threshold time.Time) ([]*domain.Conversation, error) {
	query := `
		SELECT c.user_connection_id, c.agent_connection_id, c.user_name, c.active, c.created_at, c.last_update
		FROM conversations c
		JOIN users u ON u.user_connection_id = c.user_connection_id
		WHERE c.active = 1 AND u.disconnection_time IS NOT NULL AND u.disconnection_time < ?`

	return s.queryConversations(ctx, query, threshold.Unix())
}

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
	INSERT INTO conversations (user_connection_id, agent_connection_id, user_name, active, created_at, last_update)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		conv.UserConnectionID, nullable(conv.AgentConnectionID), nullable(conv.UserName),
		boolToInt(conv.Active), conv.CreatedAt.Unix(), conv.LastUpdate.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// EnsureConversation inserts an active conversation record for the user if
// none exists. Covers messages arriving before chat-request bookkeeping
// finished.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, userID string, at time.Time) error {
	query := `
	INSERT INTO conversations (user_connection_id, active, created_at, last_update)
	VALUES (?, 1, ?, ?)
	ON CONFLICT(user_connection_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, userID, at.Unix(), at.Unix()); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

// RebindConversation points an existing conversation at the given agent
// and reactivates it, creating the record if absent.
func (s *SQLiteStore) RebindConversation(ctx context.Context, userID, agentID string, at time.Time) error {
	query := `
	INSERT INTO conversations (user_connection_id, agent_connection_id, active, created_at, last_update)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(user_connection_id) DO UPDATE SET
		agent_connection_id = excluded.agent_connection_id,
		active = 1,
		last_update = excluded.last_update`

	_, err := s.db.ExecContext(ctx, query, userID, agentID, at.Unix(), at.Unix())
	if err != nil {
		return fmt.Errorf("rebind conversation: %w", err)
	}
	return nil
}

// CloseConversation marks the conversation inactive.
func (s *SQLiteStore) CloseConversation(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE conversations SET active = 0, last_update = ? WHERE user_connection_id = ?`
	result, err := s.db.ExecContext(ctx, query, at.Unix(), userID)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("CloseConversation affected 0 rows", "user_id", userID)
	}
	return nil
}

// FinishConversation tears a session down in one transaction. The agent's
// slot is released only when this call is the one that transitioned the
// conversation to inactive, so concurrent duplicate teardowns cannot
// under-count an agent with other admitted sessions.
func (s *SQLiteStore) FinishConversation(ctx context.Context, userID, agentID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish conversation: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ts := at.Unix()
	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET active = 0, last_update = ? WHERE user_connection_id = ? AND active = 1`, ts, userID)
	if err != nil {
		return fmt.Errorf("finish conversation: close: %w", err)
	}
	closed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish conversation: rows affected: %w", err)
	}
	if closed == 0 {
		// Already inactive; nothing to release.
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit finish conversation: %w", err)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET disconnection_time = ? WHERE user_connection_id = ?`, ts, userID); err != nil {
		return fmt.Errorf("finish conversation: stamp user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET user_count = MAX(0, user_count - 1), last_update = ? WHERE agent_connection_id = ?`, ts, agentID); err != nil {
		return fmt.Errorf("finish conversation: release agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish conversation: %w", err)
	}
	return nil
}

// AppendMessage appends one message to the conversation transcript.
// Retries on SQLITE_BUSY with exponential backoff since appends from
// concurrent sessions share the write path.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID string, msg domain.Message) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.appendMessageOnce(ctx, userID, msg)
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendMessage hit SQLITE_BUSY, retrying",
				"user_id", userID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}
	return fmt.Errorf("append message for %s: %w", userID, err)
}

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, userID string, msg domain.Message) error {
	query := `
	INSERT INTO messages (user_connection_id, sender, body, image, sent_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		userID, msg.Sender, msg.Body, nullable(msg.Image), msg.SentAt.Unix(),
	)
	if err != nil {
		return err
	}

	touch := `UPDATE conversations SET last_update = ? WHERE user_connection_id = ?`
	if _, err := s.db.ExecContext(ctx, touch, msg.SentAt.Unix(), userID); err != nil {
		return err
	}
	return nil
}

// Messages returns the conversation transcript in append order.
func (s *SQLiteStore) Messages(ctx context.Context, userID string) ([]domain.Message, error) {
	query := `
		SELECT sender, body, image, sent_at
		FROM messages WHERE user_connection_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var image sql.NullString
		var sentAt int64
		if err := rows.Scan(&msg.Sender, &msg.Body, &image, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Image = image.String
		msg.SentAt = time.Unix(sentAt, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CreateQuery inserts an offline support query.
func (s *SQLiteStore) CreateQuery(ctx context.Context, q *domain.Query) (*domain.Query, error) {
	query := `
	INSERT INTO queries (email_id, user_name, message, domain, status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		q.Email, q.UserName, q.Message, q.Domain, domain.QueryPending, q.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("query insert id: %w", err)
	}
	return s.getQuery(ctx, id)
}

// ListQueries returns a page of queries filtered by status and, optionally,
// domain, newest first, plus the total count.
func (s *SQLiteStore) ListQueries(ctx context.Context, status, domainName string, limit, offset int) ([]*domain.Query, int, error) {
	countQuery := `SELECT COUNT(*) FROM queries WHERE status = ?`
	listQuery := `
		SELECT id, email_id, user_name, message, domain, status, resolved_by, agent_id, updated_at
		FROM queries WHERE status = ?`
	countArgs := []interface{}{status}
	listArgs := []interface{}{status}

	if domainName != "" {
		countQuery += ` AND domain = ?`
		listQuery += ` AND domain = ?`
		countArgs = append(countArgs, domainName)
		listArgs = append(listArgs, domainName)
	}
	listQuery += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	listArgs = append(listArgs, limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queries: %w", err)
	}
	defer closeRows(rows, "queries")

	var queries []*domain.Query
	for rows.Next() {
		q, err := scanQueryRow(rows)
		if err != nil {
			return nil, 0, err
		}
		queries = append(queries, q)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate queries: %w", err)
	}
	return queries, total, nil
}

// ResolveQuery marks a query resolved.
func (s *SQLiteStore) ResolveQuery(ctx context.Context, id int64, resolvedBy, agentID string, at time.Time) (*domain.Query, error) {
	query := `UPDATE queries SET status = ?, resolved_by = ?, agent_id = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, domain.QueryResolved, resolvedBy, nullable(agentID), at.Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("resolve query: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}
	return s.getQuery(ctx, id)
}

func (s *SQLiteStore) getQuery(ctx context.Context, id int64) (*domain.Query, error) {
	query := `
		SELECT id, email_id, user_name, message, domain, status, resolved_by, agent_id, updated_at
		FROM queries WHERE id = ?`

	q, err := scanQueryRow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...interface{}) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer closeRows(rows, "conversations")

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *SQLiteStore) attachMessages(ctx context.Context, convs []*domain.Conversation) error {
	for _, conv := range convs {
		messages, err := s.Messages(ctx, conv.UserConnectionID)
		if err != nil {
			return err
		}
		conv.Messages = messages
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var agentID, userName sql.NullString
	var active int
	var createdAt, lastUpdate int64

	err := row.Scan(&conv.UserConnectionID, &agentID, &userName, &active, &createdAt, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.AgentConnectionID = agentID.String
	conv.UserName = userName.String
	conv.Active = active != 0
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.LastUpdate = time.Unix(lastUpdate, 0)
	return &conv, nil
}

func scanQueryRow(row rowScanner) (*domain.Query, error) {
	var q domain.Query
	var resolvedBy, agentID sql.NullString
	var updatedAt int64

	err := row.Scan(&q.ID, &q.Email, &q.UserName, &q.Message, &q.Domain, &q.Status, &resolvedBy, &agentID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan query row: %w", err)
	}

	q.ResolvedBy = resolvedBy.String
	q.AgentID = agentID.String
	q.UpdatedAt = time.Unix(updatedAt, 0)
	return &q, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
