package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Spok95/school-transport/internal/auth"
	"github.com/Spok95/school-transport/internal/contact"
	"github.com/Spok95/school-transport/internal/models"
)

func (h *handler) signUp(c *gin.Context) {
	var in auth.SignUpInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Accounts.SignUp(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

type signInBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *handler) signIn(c *gin.Context) {
	var in signInBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Accounts.SignIn(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handler) me(c *gin.Context) {
	u, err := h.Accounts.Me(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type telegramBody struct {
	ChatID int64 `json:"chatId" binding:"required"`
}

func (h *handler) linkTelegram(c *gin.Context) {
	var in telegramBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.LinkTelegram(c.Request.Context(), in.ChatID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type busBody struct {
	BusID     string `json:"busId" binding:"max=64"`
	Available *bool  `json:"available" binding:"required"`
}

// assignBus: водитель выбирает автобус; в ответе новый токен с bus id.
func (h *handler) assignBus(c *gin.Context) {
	var in busBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Accounts.AssignBus(c.Request.Context(), in.BusID, *in.Available)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handler) availableDrivers(c *gin.Context) {
	drivers, err := h.Accounts.AvailableDrivers(c.Request.Context(), c.Query("search"))
	if err != nil {
		fail(c, err)
		return
	}
	if drivers == nil {
		drivers = []models.User{}
	}
	c.JSON(http.StatusOK, drivers)
}

// contactDriver: ссылки WhatsApp/mailto с текстом запроса.
func (h *handler) contactDriver(c *gin.Context) {
	u, err := h.Accounts.User(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if u.Role != models.Driver {
		fail(c, contact.ErrNoContact)
		return
	}
	links, err := contact.For(*u, contact.InquiryText(u.FullName))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, links)
}

func (h *handler) updateProfile(c *gin.Context) {
	var in auth.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Accounts.UpdateProfile(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handler) rateDriver(c *gin.Context) {
	var in auth.RatingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.Accounts.Rate(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *handler) driverRatings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	list, err := h.Accounts.Ratings(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Rating{}
	}
	c.JSON(http.StatusOK, list)
}
