package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

var (
	ErrEmailTaken = errors.New("email already registered")
	ErrBusTaken   = errors.New("bus is assigned to another driver")
)

const userCols = `id, email, password_hash, role, full_name, phone, telegram_chat_id, bus_id, available, created_at,
	area, school, route, capacity, price, schedule, description, has_first_aid, has_insurance,
	years_experience, profile_updated_at, total_ratings, rating_sum`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*models.User, error) {
	var u models.User
	var role string
	var profiled sql.NullTime
	p := &u.DriverProfile
	if err := r.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.FullName, &u.Phone,
		&u.TelegramChatID, &u.BusID, &u.Available, &u.CreatedAt,
		&p.Area, &p.School, &p.Route, &p.Capacity, &p.Price, &p.Schedule, &p.Description,
		&p.HasFirstAid, &p.HasInsurance, &p.YearsExperience, &profiled, &u.TotalRatings, &u.RatingSum); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	p.ProfileUpdatedAt = timePtr(profiled)
	u.AverageRating = models.Average(u.RatingSum, u.TotalRatings)
	return &u, nil
}

func CreateUser(ctx context.Context, q Querier, u models.User) (*models.User, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := q.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, role, full_name, phone, telegram_chat_id, bus_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userCols,
		u.Email, u.PasswordHash, string(u.Role), u.FullName, u.Phone, u.TelegramChatID, u.BusID)
	out, err := scanUser(row)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			if name == busIndex {
				return nil, ErrBusTaken
			}
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return out, nil
}

func GetUserByID(ctx context.Context, q Querier, id string) (*models.User, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func GetUserByEmail(ctx context.Context, q Querier, email string) (*models.User, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// ListAvailableDrivers: водители, принимающие заявки. search (необязательный) ищет
// по району, школе и маршруту без учёта регистра.
func ListAvailableDrivers(ctx context.Context, q Querier, search string) ([]models.User, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT `+userCols+` FROM users
		WHERE role = 'driver' AND available = TRUE
		  AND ($1 = '' OR area ILIKE '%' || $1 || '%' OR school ILIKE '%' || $1 || '%' OR route ILIKE '%' || $1 || '%')
		ORDER BY CASE WHEN total_ratings = 0 THEN 0 ELSE rating_sum::float / total_ratings END DESC, full_name`, search)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func UpdateDriverBus(ctx context.Context, q Querier, driverID, busID string, available bool) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE users SET bus_id = $2, available = $3
		WHERE id = $1 AND role = 'driver'`, driverID, busID, available)
	if err != nil {
		if name, ok := uniqueViolation(err); ok && name == busIndex {
			return ErrBusTaken
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDriverProfile: профиль и телефон водителя.
func UpdateDriverProfile(ctx context.Context, q Querier, driverID, phone string, p models.DriverProfile, at time.Time) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE users
		SET phone = $2, area = $3, school = $4, route = $5, capacity = $6, price = $7, schedule = $8,
		    description = $9, has_first_aid = $10, has_insurance = $11, years_experience = $12,
		    profile_updated_at = $13
		WHERE id = $1 AND role = 'driver'`,
		driverID, phone, p.Area, p.School, p.Route, p.Capacity, p.Price, p.Schedule,
		p.Description, p.HasFirstAid, p.HasInsurance, p.YearsExperience, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func SetTelegramChat(ctx context.Context, q Querier, userID string, chatID int64) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, `UPDATE users SET telegram_chat_id = $2 WHERE id = $1`, userID, chatID)
	return err
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

// uniqueViolation понимает оба драйвера: pgx (прод) и lib/pq (тесты). Возвращает имя ограничения.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint, pqErr.Code == "23505"
	}
	return "", false
}

const busIndex = "users_bus_id_idx"
