package repo

import (
	"context"
	"fmt"
)

// CreateProject inserts a project owned by project.UserID.
func (s *store) CreateProject(ctx context.Context, project Project) (*Project, error) {
	if project.ID == "" {
		project.ID = randomUUID()
	}
	ts := now()
	const q = `
INSERT INTO projects (id, user_id, name, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id, user_id, name, description, created_at, updated_at;
`
	var p Project
	if err := s.q.queryRow(ctx, q, project.ID, project.UserID, project.Name, project.Description, ts, ts).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

const projectSelect = `
SELECT p.id, p.user_id, p.name, p.description, p.created_at, p.updated_at,
       CASE WHEN b.id IS NULL THEN 0 ELSE 1 END
FROM projects p
LEFT JOIN project_briefs b ON b.project_id = p.id
`

func scanProject(r row) (*Project, error) {
	var p Project
	var hasBrief int
	if err := r.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt, &hasBrief); err != nil {
		return nil, err
	}
	p.HasBrief = hasBrief == 1
	return &p, nil
}

// GetProject returns a project only when it belongs to userID.
func (s *store) GetProject(ctx context.Context, userID, projectID string) (*Project, error) {
	p, err := scanProject(s.q.queryRow(ctx, projectSelect+`WHERE p.id = ? AND p.user_id = ? LIMIT 1;`, projectID, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns the user's projects, newest first.
func (s *store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rs, err := s.q.query(ctx, projectSelect+`WHERE p.user_id = ? ORDER BY p.created_at DESC;`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rs.Close()

	projects := []Project{}
	for rs.Next() {
		p, err := scanProject(rs)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// UpdateProject changes name and description of an owned project.
func (s *store) UpdateProject(ctx context.Context, project Project) (*Project, error) {
	const q = `
UPDATE projects
SET name = ?, description = ?, updated_at = ?
WHERE id = ? AND user_id = ?;
`
	n, err := s.q.exec(ctx, q, project.Name, project.Description, now(), project.ID, project.UserID)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetProject(ctx, project.UserID, project.ID)
}

// DeleteProject removes an owned project; dependent rows cascade.
func (s *store) DeleteProject(ctx context.Context, userID, projectID string) error {
	n, err := s.q.exec(ctx, `DELETE FROM projects WHERE id = ? AND user_id = ?;`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const conversationColumns = `c.id, c.project_id, c.type, c.status, c.title, c.created_at, c.updated_at`

func scanConversation(r row) (*Conversation, error) {
	var c Conversation
	if err := r.Scan(&c.ID, &c.ProjectID, &c.Type, &c.Status, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts a conversation; Status defaults to ACTIVE.
func (s *store) CreateConversation(ctx context.Context, conversation Conversation) (*Conversation, error) {
	if conversation.ID == "" {
		conversation.ID = randomUUID()
	}
	if conversation.Status == "" {
		conversation.Status = ConversationActive
	}
	if conversation.Type == "" {
		conversation.Type = ConversationGeneral
	}
	ts := now()
	const q = `
INSERT INTO conversations (id, project_id, type, status, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id, project_id, type, status, title, created_at, updated_at;
`
	c, err := scanConversation(s.q.queryRow(ctx, q,
		conversation.ID,
		conversation.ProjectID,
		string(conversation.Type),
		string(conversation.Status),
		conversation.Title,
		ts,
		ts,
	))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation whose project belongs to userID.
func (s *store) GetConversation(ctx context.Context, userID, conversationID string) (*Conversation, error) {
	const q = `
SELECT ` + conversationColumns + `
FROM conversations c
JOIN projects p ON p.id = c.project_id
WHERE c.id = ? AND p.user_id = ?
LIMIT 1;
`
	c, err := scanConversation(s.q.queryRow(ctx, q, conversationID, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// FindConversationByType returns the oldest conversation of a type in the project.
func (s *store) FindConversationByType(ctx context.Context, projectID string, convType ConversationType) (*Conversation, error) {
	const q = `
SELECT ` + conversationColumns + `
FROM conversations c
WHERE c.project_id = ? AND c.type = ?
ORDER BY c.created_at ASC
LIMIT 1;
`
	c, err := scanConversation(s.q.queryRow(ctx, q, projectID, string(convType)))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find conversation by type: %w", err)
	}
	return c, nil
}

// ListConversations returns the project's conversations in creation order.
func (s *store) ListConversations(ctx context.Context, projectID string) ([]Conversation, error) {
	const q = `
SELECT ` + conversationColumns + `
FROM conversations c
WHERE c.project_id = ?
ORDER BY c.created_at ASC;
`
	rs, err := s.q.query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rs.Close()

	conversations := []Conversation{}
	for rs.Next() {
		c, err := scanConversation(rs)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, *c)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

// SetConversationStatus updates the conversation lifecycle status.
func (s *store) SetConversationStatus(ctx context.Context, conversationID string, status ConversationStatus) error {
	n, err := s.q.exec(ctx, `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?;`, string(status), now(), conversationID)
	if err != nil {
		return fmt.Errorf("set conversation status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage stores a chat message.
func (s *store) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = randomUUID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	const q = `
INSERT INTO messages (id, conversation_id, role, content, created_at)
VALUES (?, ?, ?, ?, ?);
`
	if _, err := s.q.exec(ctx, q, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt.UTC()); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns the conversation history in chronological order.
func (s *store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	const q = `
SELECT id, conversation_id, role, content, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, id ASC;
`
	rs, err := s.q.query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rs.Close()

	messages := []Message{}
	for rs.Next() {
		var m Message
		if err := rs.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
