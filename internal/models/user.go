package models

import "time"

type Role string

const (
	Parent Role = "parent"
	Driver Role = "driver"
)

func (r Role) Valid() bool { return r == Parent || r == Driver }

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	FullName       string    `json:"fullName"`
	Phone          string    `json:"phone,omitempty"`
	TelegramChatID int64     `json:"telegramChatId,omitempty"`
	BusID          string    `json:"busId,omitempty"`
	Available      bool      `json:"available"`
	CreatedAt      time.Time `json:"createdAt"`

	DriverProfile
	TotalRatings  int     `json:"totalRatings"`
	RatingSum     int     `json:"-"`
	AverageRating float64 `json:"averageRating"`
}

// Average: средняя оценка, 0, пока оценок нет.
func Average(sum, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(sum) / float64(total)
}

// DriverProfile: то, что водитель рассказывает о своей услуге родителям.
type DriverProfile struct {
	Area             string     `json:"area,omitempty"`
	School           string     `json:"school,omitempty"`
	Route            string     `json:"route,omitempty"`
	Capacity         int        `json:"capacity,omitempty"`
	Price            int64      `json:"price,omitempty"` // в минимальных единицах за месяц
	Schedule         string     `json:"schedule,omitempty"`
	Description      string     `json:"description,omitempty"`
	HasFirstAid      bool       `json:"hasFirstAid"`
	HasInsurance     bool       `json:"hasInsurance"`
	YearsExperience  int        `json:"yearsExperience,omitempty"`
	ProfileUpdatedAt *time.Time `json:"profileUpdatedAt,omitempty"`
}

// RatingCategories: оценки по направлениям, 0 = не выставлена.
type RatingCategories struct {
	Punctuality     int `json:"punctuality" binding:"gte=0,lte=5"`
	Communication   int `json:"communication" binding:"gte=0,lte=5"`
	Safety          int `json:"safety" binding:"gte=0,lte=5"`
	Professionalism int `json:"professionalism" binding:"gte=0,lte=5"`
}

type Rating struct {
	ID          string           `json:"id"`
	RatedUserID string           `json:"ratedUserId"`
	RaterID     string           `json:"raterId"`
	TripID      string           `json:"tripId,omitempty"`
	Rating      int              `json:"rating"`
	Categories  RatingCategories `json:"categories"`
	Review      string           `json:"review,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
