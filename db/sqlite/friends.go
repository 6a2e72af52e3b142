package sqlite

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chatd/models"
)

var edgeColumns = []string{"id", "user_low", "user_high", "requester_id", "status", "created_at"}

func (r *repo) GetFriendEdge(ctx context.Context, a, b int64) (*models.FriendEdge, error) {
	low, high := models.OrderedPair(a, b)
	query, args, err := sq.Select(edgeColumns...).
		From("friend_edges").
		Where(sq.Eq{"user_low": low, "user_high": high}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building edge query: %w", err)
	}

	var (
		e       models.FriendEdge
		created string
	)
	err = r.q.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.UserLow, &e.UserHigh, &e.RequesterID, &e.Status, &created)
	if err != nil {
		return nil, handleError(err)
	}
	e.CreatedAt = parseTime(created)
	return &e, nil
}

func (r *repo) InsertFriendRequest(ctx context.Context, requesterID, targetID int64) error {
	low, high := models.OrderedPair(requesterID, targetID)
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO friend_edges (user_low, user_high, requester_id, status, created_at) VALUES (?, ?, ?, ?, ?)",
		low, high, requesterID, models.FriendPending, formatTime(time.Now()),
	)
	return handleError(err)
}

func (r *repo) AcceptFriendEdge(ctx context.Context, edgeID int64) (bool, error) {
	query, args, err := sq.Update("friend_edges").
		Set("status", models.FriendAccepted).
		Where(sq.Eq{"id": edgeID, "status": models.FriendPending}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building edge update: %w", err)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, handleError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repo) ListAcceptedFriends(ctx context.Context, userID int64) ([]models.User, error) {
	cols := make([]string, len(userColumns))
	for i, c := range userColumns {
		cols[i] = "u." + c
	}
	query, args, err := sq.Select(cols...).
		From("friend_edges e").
		Join("users u ON u.id = CASE WHEN e.user_low = ? THEN e.user_high ELSE e.user_low END", userID).
		Where(sq.Or{sq.Eq{"e.user_low": userID}, sq.Eq{"e.user_high": userID}}).
		Where(sq.Eq{"e.status": models.FriendAccepted}).
		OrderBy("u.username").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building friend list query: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, handleError(err)
	}
	defer rows.Close()

	var friends []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, *u)
	}
	return friends, rows.Err()
}
