package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

func (h *handler) notifications(c *gin.Context) {
	sess := session(c)
	limit, _ := strconv.Atoi(c.Query("limit"))
	var (
		list []models.Notification
		err  error
	)
	if unread, _ := strconv.ParseBool(c.Query("unread")); unread {
		list, err = h.Notifications.ListUnread(c.Request.Context(), sess.UserID, limit)
	} else {
		list, err = h.Notifications.List(c.Request.Context(), sess.UserID, limit)
	}
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) unreadCount(c *gin.Context) {
	n, err := h.Notifications.UnreadCount(c.Request.Context(), session(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *handler) markRead(c *gin.Context) {
	if err := h.Notifications.MarkRead(c.Request.Context(), session(c).UserID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) markAllRead(c *gin.Context) {
	n, err := h.Notifications.MarkAllRead(c.Request.Context(), session(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

type messageBody struct {
	RecipientID string `json:"recipientId" binding:"required,uuid"`
	Text        string `json:"text" binding:"required,max=2000"`
}

var errSelfMessage = errors.New("cannot send a message to yourself")

// sendMessage: прямое сообщение между родителем и водителем.
func (h *handler) sendMessage(c *gin.Context) {
	var in messageBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	from, err := h.Accounts.Me(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	if in.RecipientID == from.ID {
		c.JSON(http.StatusUnprocessableEntity, errorBody{Error: errSelfMessage.Error()})
		return
	}
	if _, err := h.Accounts.User(ctx, in.RecipientID); err != nil {
		fail(c, err)
		return
	}
	n := h.Notifications.Send(ctx, notify.Message(*from, in.RecipientID, in.Text))
	if n == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "message was not saved, try again"})
		return
	}
	c.JSON(http.StatusCreated, n)
}
