package repo

import (
	"context"
	"fmt"
)

const briefColumns = `id, project_id, business_description, product, target_audience, unique_selling_point, goal, monthly_budget, location, website_url, created_at, updated_at`

func scanBrief(r row) (*ProjectBrief, error) {
	var b ProjectBrief
	if err := r.Scan(&b.ID, &b.ProjectID, &b.BusinessDescription, &b.Product, &b.TargetAudience, &b.UniqueSellingPoint, &b.Goal, &b.MonthlyBudget, &b.Location, &b.WebsiteURL, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertBrief creates the project's brief or overwrites the existing one.
func (s *store) UpsertBrief(ctx context.Context, brief ProjectBrief) (*ProjectBrief, error) {
	if brief.ID == "" {
		brief.ID = randomUUID()
	}
	ts := now()
	const q = `
INSERT INTO project_briefs (id, project_id, business_description, product, target_audience, unique_selling_point, goal, monthly_budget, location, website_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (project_id) DO UPDATE SET
    business_description = excluded.business_description,
    product = excluded.product,
    target_audience = excluded.target_audience,
    unique_selling_point = excluded.unique_selling_point,
    goal = excluded.goal,
    monthly_budget = excluded.monthly_budget,
    location = excluded.location,
    website_url = excluded.website_url,
    updated_at = excluded.updated_at
RETURNING ` + briefColumns + `;
`
	b, err := scanBrief(s.q.queryRow(ctx, q,
		brief.ID,
		brief.ProjectID,
		brief.BusinessDescription,
		brief.Product,
		brief.TargetAudience,
		brief.UniqueSellingPoint,
		string(brief.Goal),
		brief.MonthlyBudget,
		brief.Location,
		brief.WebsiteURL,
		ts,
		ts,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert brief: %w", err)
	}
	return b, nil
}

// UpdateBrief overwrites an existing brief and fails with ErrNotFound when none exists.
func (s *store) UpdateBrief(ctx context.Context, brief ProjectBrief) (*ProjectBrief, error) {
	const q = `
UPDATE project_briefs
SET business_description = ?,
    product = ?,
    target_audience = ?,
    unique_selling_point = ?,
    goal = ?,
    monthly_budget = ?,
    location = ?,
    website_url = ?,
    updated_at = ?
WHERE project_id = ?
RETURNING ` + briefColumns + `;
`
	b, err := scanBrief(s.q.queryRow(ctx, q,
		brief.BusinessDescription,
		brief.Product,
		brief.TargetAudience,
		brief.UniqueSellingPoint,
		string(brief.Goal),
		brief.MonthlyBudget,
		brief.Location,
		brief.WebsiteURL,
		now(),
		brief.ProjectID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update brief: %w", err)
	}
	return b, nil
}

// GetBrief returns the project's brief.
func (s *store) GetBrief(ctx context.Context, projectID string) (*ProjectBrief, error) {
	b, err := scanBrief(s.q.queryRow(ctx, `SELECT `+briefColumns+` FROM project_briefs WHERE project_id = ? LIMIT 1;`, projectID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get brief: %w", err)
	}
	return b, nil
}

const artifactColumns = `a.id, a.project_id, a.conversation_id, a.type, a.title, a.content, a.created_at, a.updated_at`

func scanArtifact(r row) (*Artifact, error) {
	var a Artifact
	var content []byte
	if err := r.Scan(&a.ID, &a.ProjectID, &a.ConversationID, &a.Type, &a.Title, &content, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Content = content
	return &a, nil
}

// CreateArtifact inserts an artifact. Content must be valid JSON.
func (s *store) CreateArtifact(ctx context.Context, artifact Artifact) (*Artifact, error) {
	if artifact.ID == "" {
		artifact.ID = randomUUID()
	}
	content := artifact.Content
	if len(content) == 0 {
		content = []byte("{}")
	}
	ts := now()
	const q = `
INSERT INTO artifacts (id, project_id, conversation_id, type, title, content, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	if _, err := s.q.exec(ctx, q,
		artifact.ID,
		artifact.ProjectID,
		artifact.ConversationID,
		string(artifact.Type),
		artifact.Title,
		string(content),
		ts,
		ts,
	); err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	artifact.Content = content
	artifact.CreatedAt = ts
	artifact.UpdatedAt = ts
	return &artifact, nil
}

// GetArtifact returns an artifact whose project belongs to userID.
func (s *store) GetArtifact(ctx context.Context, userID, artifactID string) (*Artifact, error) {
	const q = `
SELECT ` + artifactColumns + `
FROM artifacts a
JOIN projects p ON p.id = a.project_id
WHERE a.id = ? AND p.user_id = ?
LIMIT 1;
`
	a, err := scanArtifact(s.q.queryRow(ctx, q, artifactID, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns the project's artifacts, newest first.
func (s *store) ListArtifacts(ctx context.Context, projectID string) ([]Artifact, error) {
	const q = `
SELECT ` + artifactColumns + `
FROM artifacts a
WHERE a.project_id = ?
ORDER BY a.created_at DESC;
`
	rs, err := s.q.query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rs.Close()

	artifacts := []Artifact{}
	for rs.Next() {
		a, err := scanArtifact(rs)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// LatestArtifact returns the newest artifact of the given type in the project.
func (s *store) LatestArtifact(ctx context.Context, projectID string, artifactType ArtifactType) (*Artifact, error) {
	const q = `
SELECT ` + artifactColumns + `
FROM artifacts a
WHERE a.project_id = ? AND a.type = ?
ORDER BY a.created_at DESC
LIMIT 1;
`
	a, err := scanArtifact(s.q.queryRow(ctx, q, projectID, string(artifactType)))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest artifact: %w", err)
	}
	return a, nil
}

// UpdateArtifactContent replaces the JSON content of an artifact.
func (s *store) UpdateArtifactContent(ctx context.Context, artifactID string, content []byte) error {
	n, err := s.q.exec(ctx, `UPDATE artifacts SET content = ?, updated_at = ? WHERE id = ?;`, string(content), now(), artifactID)
	if err != nil {
		return fmt.Errorf("update artifact content: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
