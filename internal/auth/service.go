// Package auth: регистрация и вход по email+паролю (bcrypt) и JWT-сессии.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/models"
)

const MinPasswordLen = 6

var (
	ErrInvalidEmail  = errors.New("auth/invalid-email")
	ErrWeakPassword  = errors.New("auth/weak-password")
	ErrEmailInUse    = errors.New("auth/email-already-in-use")
	ErrUnknownEmail  = errors.New("auth/user-not-found")
	ErrWrongPassword = errors.New("auth/wrong-password")
	ErrInvalidRole   = errors.New("auth/invalid-role")
	ErrNotDriver     = errors.New("auth/not-a-driver")
	ErrBusTaken      = errors.New("auth/bus-already-assigned")
)

var hints = map[error]string{
	ErrInvalidEmail:  "Please enter a valid email address.",
	ErrWeakPassword:  "Password should be at least 6 characters.",
	ErrEmailInUse:    "This email is already registered. Try signing in instead.",
	ErrUnknownEmail:  "No account found with this email.",
	ErrWrongPassword: "Incorrect password. Please try again.",
	ErrInvalidRole:   "Please choose whether you are a parent or a driver.",
	ErrInvalidToken:  "Your session has expired. Please sign in again.",
	ErrBusTaken:      "This bus is already assigned to another driver.",
}

// Hint: понятное пользователю пояснение к ошибке авторизации.
func Hint(err error) string {
	if h, ok := KnownHint(err); ok {
		return h
	}
	return "Authentication failed. Please try again."
}

// KnownHint: пояснение только для ошибок авторизации.
func KnownHint(err error) (string, bool) {
	for e, h := range hints {
		if errors.Is(err, e) {
			return h, true
		}
	}
	return "", false
}

type SignUpInput struct {
	Email    string      `json:"email" binding:"required,email"`
	Password string      `json:"password" binding:"required"`
	Role     models.Role `json:"role" binding:"required,oneof=parent driver"`
	FullName string      `json:"fullName" binding:"required,max=120"`
	Phone    string      `json:"phone" binding:"max=32"`
	BusID    string      `json:"busId" binding:"max=64"`
}

type Session struct {
	User      models.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Service struct {
	db       *sql.DB
	tokens   *Tokens
	validate *validator.Validate
	log      *zap.Logger
	cost     int
}

func NewService(database *sql.DB, tokens *Tokens, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:       database,
		tokens:   tokens,
		validate: validator.New(),
		log:      log.Named("auth"),
		cost:     bcrypt.DefaultCost,
	}
}

func (s *Service) Tokens() *Tokens { return s.tokens }

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Var(in.Email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < MinPasswordLen {
		return nil, ErrWeakPassword
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if in.Role != models.Driver {
		in.BusID = ""
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, err
	}
	u, err := db.CreateUser(ctx, s.db, models.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        strings.TrimSpace(in.Phone),
		BusID:        strings.TrimSpace(in.BusID),
	})
	if err != nil {
		switch {
		case errors.Is(err, db.ErrEmailTaken):
			return nil, ErrEmailInUse
		case errors.Is(err, db.ErrBusTaken):
			return nil, ErrBusTaken
		}
		return nil, err
	}
	s.log.Info("user signed up", zap.String("user", u.ID), zap.String("role", string(u.Role)))
	return s.session(*u)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}
	u, err := db.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUnknownEmail
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}
	return s.session(*u)
}

func (s *Service) session(u models.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

// Me: текущий пользователь по сессии из контекста.
func (s *Service) Me(ctx context.Context) (*models.User, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, s.db, sess.UserID)
}

// AssignBus: водитель выбирает автобус и доступность. Возвращает новый токен:
// bus id зашит в claims.
func (s *Service) AssignBus(ctx context.Context, busID string, available bool) (*Session, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.Driver {
		return nil, ErrNotDriver
	}
	if err := db.UpdateDriverBus(ctx, s.db, sess.UserID, strings.TrimSpace(busID), available); err != nil {
		if errors.Is(err, db.ErrBusTaken) {
			return nil, ErrBusTaken
		}
		return nil, err
	}
	u, err := db.GetUserByID(ctx, s.db, sess.UserID)
	if err != nil {
		return nil, err
	}
	return s.session(*u)
}

// AvailableDrivers: поиск водителя родителем; search по району, школе или маршруту.
func (s *Service) AvailableDrivers(ctx context.Context, search string) ([]models.User, error) {
	return db.ListAvailableDrivers(ctx, s.db, strings.TrimSpace(search))
}

// LinkTelegram: привязка чата для доставки уведомлений в Telegram.
func (s *Service) LinkTelegram(ctx context.Context, chatID int64) error {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return err
	}
	return db.SetTelegramChat(ctx, s.db, sess.UserID, chatID)
}

// User: профиль другого пользователя (для контактов водителя).
func (s *Service) User(ctx context.Context, id string) (*models.User, error) {
	if _, err := ctxutil.RequireSession(ctx); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, s.db, id)
}
