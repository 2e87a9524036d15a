package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/models"
)

var (
	ErrNotServed     = errors.New("auth/driver-not-serving-you")
	ErrAlreadyRated  = errors.New("auth/trip-already-rated")
	ErrInvalidRating = errors.New("auth/invalid-rating")
)

// ProfileInput: форма профиля водителя.
type ProfileInput struct {
	Phone           string `json:"phone" binding:"max=32"`
	Area            string `json:"area" binding:"max=200"`
	School          string `json:"school" binding:"max=200"`
	Route           string `json:"route" binding:"max=500"`
	Capacity        int    `json:"capacity" binding:"gte=0,lte=100"`
	Price           int64  `json:"price" binding:"gte=0"`
	Schedule        string `json:"schedule" binding:"max=500"`
	Description     string `json:"description" binding:"max=2000"`
	HasFirstAid     bool   `json:"hasFirstAid"`
	HasInsurance    bool   `json:"hasInsurance"`
	YearsExperience int    `json:"yearsExperience" binding:"gte=0,lte=70"`
}

// UpdateProfile: водитель редактирует свой профиль. Рейтинг и автобус не трогаются.
func (s *Service) UpdateProfile(ctx context.Context, in ProfileInput) (*models.User, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.Driver {
		return nil, ErrNotDriver
	}
	p := models.DriverProfile{
		Area:            strings.TrimSpace(in.Area),
		School:          strings.TrimSpace(in.School),
		Route:           strings.TrimSpace(in.Route),
		Capacity:        in.Capacity,
		Price:           in.Price,
		Schedule:        strings.TrimSpace(in.Schedule),
		Description:     strings.TrimSpace(in.Description),
		HasFirstAid:     in.HasFirstAid,
		HasInsurance:    in.HasInsurance,
		YearsExperience: in.YearsExperience,
	}
	if err := db.UpdateDriverProfile(ctx, s.db, sess.UserID, strings.TrimSpace(in.Phone), p, time.Now()); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, s.db, sess.UserID)
}

type RatingInput struct {
	Rating     int                     `json:"rating" binding:"required,gte=1,lte=5"`
	Categories models.RatingCategories `json:"categories"`
	Review     string                  `json:"review" binding:"max=2000"`
	TripID     string                  `json:"tripId" binding:"omitempty,uuid"`
}

// Rate: родитель оценивает водителя, который возит его ребёнка. С tripId оценка
// привязана к поездке, и поездку можно оценить один раз.
func (s *Service) Rate(ctx context.Context, driverID string, in RatingInput) (*models.Rating, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.Parent {
		return nil, ErrNotServed
	}
	c := in.Categories
	if in.Rating < 1 || in.Rating > 5 || !inRange(c.Punctuality) || !inRange(c.Communication) ||
		!inRange(c.Safety) || !inRange(c.Professionalism) {
		return nil, ErrInvalidRating
	}

	var out *models.Rating
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		driver, err := db.GetUserByID(ctx, tx, driverID)
		if err != nil {
			return err
		}
		if driver.Role != models.Driver {
			return db.ErrNotFound
		}
		var ok bool
		if in.TripID != "" {
			ok, err = db.TripBetween(ctx, tx, in.TripID, sess.UserID, driverID)
		} else {
			ok, err = db.ServedBy(ctx, tx, sess.UserID, driverID)
		}
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotServed
		}
		out, err = db.InsertRating(ctx, tx, models.Rating{
			RatedUserID: driverID,
			RaterID:     sess.UserID,
			TripID:      in.TripID,
			Rating:      in.Rating,
			Categories:  c,
			Review:      strings.TrimSpace(in.Review),
			CreatedAt:   time.Now(),
		})
		if errors.Is(err, db.ErrAlreadyRated) {
			return ErrAlreadyRated
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("driver rated", zap.String("driver", driverID), zap.Int("rating", out.Rating))
	return out, nil
}

func inRange(v int) bool { return v >= 0 && v <= 5 }

func (s *Service) Ratings(ctx context.Context, driverID string, limit int) ([]models.Rating, error) {
	if _, err := ctxutil.RequireSession(ctx); err != nil {
		return nil, err
	}
	return db.ListRatingsFor(ctx, s.db, driverID, limit)
}
