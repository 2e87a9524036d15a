package db

import (
	"context"
	"errors"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

var ErrAlreadyRated = errors.New("trip already rated")

const ratingCols = `id, rated_user_id, rater_id, COALESCE(trip_id::text, ''), rating,
	punctuality, communication, safety, professionalism, review, created_at`

func scanRating(r rowScanner) (*models.Rating, error) {
	var x models.Rating
	c := &x.Categories
	if err := r.Scan(&x.ID, &x.RatedUserID, &x.RaterID, &x.TripID, &x.Rating,
		&c.Punctuality, &c.Communication, &c.Safety, &c.Professionalism, &x.Review, &x.CreatedAt); err != nil {
		return nil, err
	}
	return &x, nil
}

// InsertRating пишет оценку и сразу обновляет счётчики пользователя. Вызывать в транзакции.
func InsertRating(ctx context.Context, q Querier, r models.Rating) (*models.Rating, error) {
	c := r.Categories
	out, err := scanRating(q.QueryRowContext(ctx, `
		INSERT INTO ratings (rated_user_id, rater_id, trip_id, rating, punctuality, communication,
		                     safety, professionalism, review, created_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+ratingCols,
		r.RatedUserID, r.RaterID, r.TripID, r.Rating,
		c.Punctuality, c.Communication, c.Safety, c.Professionalism, r.Review, r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyRated
		}
		return nil, err
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE users SET total_ratings = total_ratings + 1, rating_sum = rating_sum + $2
		WHERE id = $1`, r.RatedUserID, r.Rating); err != nil {
		return nil, err
	}
	return out, nil
}

func ListRatingsFor(ctx context.Context, q Querier, userID string, limit int) ([]models.Rating, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+ratingCols+` FROM ratings
		WHERE rated_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Rating
	for rows.Next() {
		x, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *x)
	}
	return out, rows.Err()
}

// ServedBy: у родителя есть ребёнок, закреплённый за водителем.
func ServedBy(ctx context.Context, q Querier, parentID, driverID string) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM students WHERE parent_id = $1 AND driver_id = $2)`,
		parentID, driverID).Scan(&ok)
	return ok, err
}

// TripBetween: поездка принадлежит этой паре родитель/водитель.
func TripBetween(ctx context.Context, q Querier, tripID, parentID, driverID string) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM trips WHERE id = $1 AND parent_id = $2 AND driver_id = $3)`,
		tripID, parentID, driverID).Scan(&ok)
	return ok, err
}
