package api

import (
	"bytes"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/contact"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/export"
	"github.com/Spok95/school-transport/internal/models"
)

const idempotencyHeader = "Idempotency-Key"

func (h *handler) students(c *gin.Context) {
	list, err := h.Tracking.Students(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Student{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) student(c *gin.Context) {
	st, err := h.Tracking.Student(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type statusBody struct {
	Status string `json:"status" binding:"required,student_status"`
}

func (h *handler) changeStatus(c *gin.Context) {
	var in statusBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	tr, err := h.Tracking.ChangeStatus(c.Request.Context(), c.Param("id"), in.Status, c.GetHeader(idempotencyHeader))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

type attendanceBody struct {
	Date   string `json:"date" binding:"omitempty,datetime=2006-01-02"`
	Status string `json:"status" binding:"required,attendance_status"`
}

func (h *handler) markAttendance(c *gin.Context) {
	var in attendanceBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.Tracking.MarkAttendance(c.Request.Context(), c.Param("id"), in.Date, models.AttendanceStatus(in.Status))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type emergencyBody struct {
	Type    string `json:"type" binding:"required,max=64"`
	Message string `json:"message" binding:"max=1000"`
}

type emergencyResponse struct {
	Emergency models.Emergency `json:"emergency"`
	WhatsApp  string           `json:"whatsapp,omitempty"`
}

// reportEmergency: запись + уведомление водителю; в ответе ссылка WhatsApp, если у водителя есть телефон.
func (h *handler) reportEmergency(c *gin.Context) {
	var in emergencyBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	e, err := h.Tracking.ReportEmergency(ctx, c.Param("id"), in.Type, in.Message)
	if err != nil {
		fail(c, err)
		return
	}
	resp := emergencyResponse{Emergency: *e}
	if driver, err := h.Accounts.User(ctx, e.DriverID); err == nil {
		childName := ""
		if st, err := h.Tracking.Student(ctx, e.StudentID); err == nil {
			childName = st.FullName
		}
		resp.WhatsApp = contact.WhatsApp(driver.Phone, contact.EmergencyText(e.Type, childName, e.Message))
	} else {
		h.log.Debug("driver lookup for emergency link", zap.Error(err))
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *handler) attendance(c *gin.Context) {
	list, err := h.Tracking.Attendance(c.Request.Context(), db.AttendanceFilter{
		StudentID: c.Query("studentId"),
		From:      c.Query("from"),
		To:        c.Query("to"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) trips(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Tracking.Trips(c.Request.Context(), db.TripFilter{
		ChildID: c.Query("studentId"),
		Status:  models.TripStatus(c.Query("status")),
		Limit:   limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Trip{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) emergencies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Tracking.Emergencies(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.Emergency{}
	}
	c.JSON(http.StatusOK, list)
}

// reportRange: период отчёта: по умолчанию последние 30 дней.
func reportRange(c *gin.Context, loc *time.Location) (from, to time.Time, err error) {
	today := time.Now().In(loc)
	to = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	from = to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		if from, err = time.ParseInLocation("2006-01-02", v, loc); err != nil {
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.ParseInLocation("2006-01-02", v, loc); err != nil {
			return
		}
	}
	return from, to, nil
}

// exportReport: xlsx с листами посещаемости и поездок за период.
func (h *handler) exportReport(c *gin.Context) {
	from, to, err := reportRange(c, h.Location)
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	studentID := c.Query("studentId")

	records, err := h.Tracking.Attendance(ctx, db.AttendanceFilter{
		StudentID: studentID,
		From:      from.Format("2006-01-02"),
		To:        to.Format("2006-01-02"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	trips, err := h.Tracking.Trips(ctx, db.TripFilter{ChildID: studentID, Limit: 1000})
	if err != nil {
		fail(c, err)
		return
	}
	end := to.AddDate(0, 0, 1)
	inRange := trips[:0]
	for _, t := range trips {
		if !t.StartedAt.Before(from) && t.StartedAt.Before(end) {
			inRange = append(inRange, t)
		}
	}

	names := export.Names{}
	if students, err := h.Tracking.Students(ctx); err == nil {
		for _, s := range students {
			names[s.ID] = s.FullName
		}
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, []export.SheetSpec{
		export.AttendanceSheet(records, names, h.Location),
		export.TripsSheet(inRange, names, h.Location),
	}); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": export.ReportFilename(from, to),
	}))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
