package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// Store persists conversations and messages over database/sql, following
// the teacher's pkg/database repository pattern (see pkg/memory.Store,
// pkg/sandbox.Store for the same shape in this repo).
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// GetMessageByClientMsgID implements spec.md §4.13 step 1's idempotency
// lookup: "(conversation_id, client_msg_id)".
func (s *Store) GetMessageByClientMsgID(ctx context.Context, conversationID, clientMsgID string) (*Message, error) {
	row := s.DB.QueryRowContext(ctx, messageSelect+" WHERE conversation_id = ? AND client_msg_id = ?", conversationID, clientMsgID)
	return scanMessage(row)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, title, created_at, updated_at, last_read_at, meta_json FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// EnsureConversation creates a conversation row if id does not already exist
// (used by emit_run_message's "else create a new conversation" branch).
func (s *Store) EnsureConversation(ctx context.Context, id, title string, meta json.RawMessage, now time.Time) (*Conversation, error) {
	existing, err := s.GetConversation(ctx, id)
	if err == nil {
		return existing, nil
	}
	if err != lcerrors.ErrNotFound {
		return nil, err
	}
	c := &Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now, Meta: meta}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO conversations (id, title, created_at, updated_at, meta_json) VALUES (?, ?, ?, ?, ?)`,
		c.ID, nullStr(c.Title), c.CreatedAt, c.UpdatedAt, nullRaw(c.Meta)); err != nil {
		return nil, err
	}
	return c, nil
}

// TouchConversation stamps conversation.updated_at (spec.md §4.13 steps 2,3,6).
func (s *Store) TouchConversation(ctx context.Context, id string, updatedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, updatedAt, id)
	return err
}

// CreateConversation inserts a brand-new conversation (spec.md §6:
// `POST /conversations`).
func (s *Store) CreateConversation(ctx context.Context, title string, meta json.RawMessage, now time.Time) (*Conversation, error) {
	c := &Conversation{ID: uuid.New().String(), Title: title, CreatedAt: now, UpdatedAt: now, Meta: meta}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO conversations (id, title, created_at, updated_at, meta_json) VALUES (?, ?, ?, ?, ?)`,
		c.ID, nullStr(c.Title), c.CreatedAt, c.UpdatedAt, nullRaw(c.Meta))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns conversations newest-first (spec.md §6: `GET
// /conversations?limit&offset`).
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at, last_read_at, meta_json
		FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateConversation patches title and/or meta (spec.md §6: `PATCH
// /conversations/{id}`). A nil title or empty meta leaves that column
// unchanged; a non-nil empty title clears the title.
func (s *Store) UpdateConversation(ctx context.Context, id string, title *string, meta json.RawMessage, now time.Time) (*Conversation, error) {
	if title != nil {
		if _, err := s.DB.ExecContext(ctx, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, nullStr(*title), now, id); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if _, err := s.DB.ExecContext(ctx, `UPDATE conversations SET meta_json = ?, updated_at = ? WHERE id = ?`, string(meta), now, id); err != nil {
			return nil, err
		}
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and its messages (spec.md §6:
// `DELETE /conversations/{id}`).
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// MarkRead sets last_read_at to now (spec.md §6: `PATCH
// /conversations/{id}/mark-read`; spec.md §3's has_unread is computed from
// this column).
func (s *Store) MarkRead(ctx context.Context, id string, now time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE conversations SET last_read_at = ? WHERE id = ?`, now, id)
	return err
}

// ListMessages returns a conversation's messages oldest-first with simple
// limit/offset pagination (spec.md §6: `GET /conversations/{id}/messages`).
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		messageSelect+" WHERE conversation_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?", conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// InsertMessage inserts a message and returns it with its generated id.
func (s *Store) InsertMessage(ctx context.Context, m Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var srKind, srID any
	if m.SourceRef != nil {
		srKind, srID = m.SourceRef.Kind, m.SourceRef.RefID
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at, source_ref_kind, source_ref_id, meta_json, client_msg_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt, srKind, srID, nullRaw(m.Meta), nullStr(m.ClientMsgID))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecentMessages fetches up to limit most-recent messages for a
// conversation, ascending by created_at (spec.md §4.13 step 3's windowed
// history query).
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		messageSelect+" WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?", conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	// reverse to ascending order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

const messageSelect = `SELECT id, conversation_id, role, content, created_at, source_ref_kind, source_ref_id, meta_json, client_msg_id FROM messages`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var role string
	var srKind, srID, metaJSON, clientMsgID sql.NullString
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt, &srKind, &srID, &metaJSON, &clientMsgID); err != nil {
		if err == sql.ErrNoRows {
			return nil, lcerrors.ErrNotFound
		}
		return nil, err
	}
	m.Role = Role(role)
	m.ClientMsgID = clientMsgID.String
	if srKind.Valid {
		m.SourceRef = &SourceRef{Kind: srKind.String, RefID: srID.String}
	}
	if metaJSON.Valid {
		m.Meta = json.RawMessage(metaJSON.String)
	}
	return &m, nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var title, metaJSON sql.NullString
	var lastReadAt sql.NullTime
	if err := row.Scan(&c.ID, &title, &c.CreatedAt, &c.UpdatedAt, &lastReadAt, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, lcerrors.ErrNotFound
		}
		return nil, err
	}
	c.Title = title.String
	if lastReadAt.Valid {
		c.LastReadAt = &lastReadAt.Time
	}
	if metaJSON.Valid {
		c.Meta = json.RawMessage(metaJSON.String)
	}
	return &c, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
