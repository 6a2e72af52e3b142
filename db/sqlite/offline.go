package sqlite

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chatd/db"
	"chatd/models"
)

func (r *repo) InsertOfflineMessage(ctx context.Context, recipientID int64, frame []byte) error {
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO offline_messages (recipient_id, frame, created_at) VALUES (?, ?, ?)",
		recipientID, frame, formatTime(time.Now()),
	)
	return handleError(err)
}

func (r *repo) ListOfflineMessages(ctx context.Context, recipientID int64) ([]models.OfflineMessage, error) {
	query, args, err := sq.Select("id", "recipient_id", "frame", "created_at").
		From("offline_messages").
		Where(sq.Eq{"recipient_id": recipientID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building offline message query: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, handleError(err)
	}
	defer rows.Close()

	var msgs []models.OfflineMessage
	for rows.Next() {
		var (
			m       models.OfflineMessage
			created string
		)
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.Frame, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *repo) DeleteOfflineMessage(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM offline_messages WHERE id = ?", id)
	if err != nil {
		return handleError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}
