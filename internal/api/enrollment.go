package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Spok95/school-transport/internal/enrollment"
	"github.com/Spok95/school-transport/internal/models"
)

func (h *handler) submitRequest(c *gin.Context) {
	var in enrollment.RequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	rr, err := h.Enrollment.SubmitRequest(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rr)
}

func requestList(c *gin.Context, list []models.RideRequest, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.RideRequest{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) requests(c *gin.Context) {
	list, err := h.Enrollment.Requests(c.Request.Context())
	requestList(c, list, err)
}

func (h *handler) pendingRequests(c *gin.Context) {
	list, err := h.Enrollment.Pending(c.Request.Context())
	requestList(c, list, err)
}

type decisionBody struct {
	Message string `json:"message" binding:"max=1000"`
}

// bindOptional: пустое тело допустимо.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

func (h *handler) approveRequest(c *gin.Context) {
	var in decisionBody
	if !bindOptional(c, &in) {
		return
	}
	a, err := h.Enrollment.Approve(c.Request.Context(), c.Param("id"), in.Message, c.GetHeader(idempotencyHeader))
	if err != nil {
		fail(c, err)
		return
	}
	code := http.StatusCreated
	if a.Replayed {
		code = http.StatusOK
	}
	c.JSON(code, a)
}

func (h *handler) rejectRequest(c *gin.Context) {
	var in decisionBody
	if !bindOptional(c, &in) {
		return
	}
	rr, err := h.Enrollment.Reject(c.Request.Context(), c.Param("id"), in.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rr)
}

func (h *handler) completeRequest(c *gin.Context) {
	rr, err := h.Enrollment.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rr)
}

func (h *handler) subscriptions(c *gin.Context) {
	list, err := h.Enrollment.Subscriptions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Subscription{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) subscription(c *gin.Context) {
	sub, err := h.Enrollment.Subscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *handler) payments(c *gin.Context) {
	list, err := h.Enrollment.Payments(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Payment{}
	}
	c.JSON(http.StatusOK, list)
}

type payBody struct {
	Method string `json:"method" binding:"max=32"`
}

func (h *handler) pay(c *gin.Context) {
	var in payBody
	if !bindOptional(c, &in) {
		return
	}
	res, err := h.Enrollment.Pay(c.Request.Context(), c.Param("id"), in.Method, c.GetHeader(idempotencyHeader))
	if err != nil {
		fail(c, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	c.JSON(code, res)
}

type cancelBody struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *handler) cancelSubscription(c *gin.Context) {
	var in cancelBody
	if !bindOptional(c, &in) {
		return
	}
	sub, err := h.Enrollment.Cancel(c.Request.Context(), c.Param("id"), in.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type checkoutBody struct {
	SuccessURL string `json:"successUrl" binding:"required,url"`
	CancelURL  string `json:"cancelUrl" binding:"required,url"`
}

func (h *handler) checkout(c *gin.Context) {
	var in checkoutBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	url, err := h.Enrollment.StartCheckout(c.Request.Context(), c.Param("id"), in.SuccessURL, in.CancelURL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *handler) proposeAgreement(c *gin.Context) {
	var in enrollment.AgreementInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.Enrollment.ProposeAgreement(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handler) agreements(c *gin.Context) {
	list, err := h.Enrollment.Agreements(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Agreement{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) agreement(c *gin.Context) {
	a, err := h.Enrollment.Agreement(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// signAgreement: подпись родителя создаёт ученика и подписку.
func (h *handler) signAgreement(c *gin.Context) {
	a, err := h.Enrollment.SignAgreement(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handler) declineAgreement(c *gin.Context) {
	a, err := h.Enrollment.DeclineAgreement(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
