package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/repository"
)

type MessageBodyRepo struct{ db *sql.DB }

func NewMessageBodyRepo(db *sql.DB) repository.MessageBodyRepository {
	return &MessageBodyRepo{db: db}
}

const messageBodyColumns = `id, app_id, source, kind, title, media_ref, text, url, url2, survey_ref, fingerprint, created_at, updated_at`

func scanMessageBody(row interface{ Scan(...any) error }) (*entity.MessageBody, error) {
	var b entity.MessageBody
	var kind string
	if err := row.Scan(
		&b.ID, &b.AppID, &b.Source, &kind, &b.Title, &b.MediaRef, &b.Text,
		&b.URL, &b.URL2, &b.SurveyRef, &b.Fingerprint, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Kind = entity.MessageKind(kind)
	return &b, nil
}

func (repo *MessageBodyRepo) Get(ctx context.Context, id int64) (*entity.MessageBody, error) {
	const query = `SELECT ` + messageBodyColumns + `
FROM message_bodies
WHERE id = $1`
	b, err := scanMessageBody(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return b, nil
}

func (repo *MessageBodyRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.MessageBody, error) {
	const query = `SELECT ` + messageBodyColumns + `
FROM message_bodies
WHERE fingerprint = $1`
	b, err := scanMessageBody(repo.db.QueryRowContext(ctx, query, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindByFingerprint: %w", err)
	}
	return b, nil
}

// Create relies on the fingerprint unique index: a concurrent insert of the same
// content turns into a no-op update that still returns the winning row's id.
func (repo *MessageBodyRepo) Create(ctx context.Context, body *entity.MessageBody) (int64, error) {
	const query = `
INSERT INTO message_bodies (app_id, source, kind, title, media_ref, text, url, url2, survey_ref, fingerprint)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (fingerprint) DO UPDATE SET fingerprint = EXCLUDED.fingerprint
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query,
		body.AppID, body.Source, string(body.Kind), body.Title, body.MediaRef,
		body.Text, body.URL, body.URL2, body.SurveyRef, body.Fingerprint,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("Create: %w", err)
	}
	body.ID = id
	return id, nil
}

// BackfillDisplay sets the display source only when the stored value is empty.
// Source is not part of the fingerprint, so the row keeps its identity.
func (repo *MessageBodyRepo) BackfillDisplay(ctx context.Context, id int64, source string) error {
	const query = `
UPDATE message_bodies
SET source = $2, updated_at = now()
WHERE id = $1 AND source = ''`
	if _, err := repo.db.ExecContext(ctx, query, id, source); err != nil {
		return fmt.Errorf("BackfillDisplay: %w", err)
	}
	return nil
}
