package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/Spok95/school-transport/internal/lifecycle"
	"github.com/Spok95/school-transport/internal/models"
)

var registerOnce sync.Once

// registerValidators добавляет в gin-валидатор теги предметной области.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("student_status", func(fl validator.FieldLevel) bool {
			return lifecycle.Valid(models.StudentStatus(fl.Field().String()))
		})
		_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
			switch models.AttendanceStatus(fl.Field().String()) {
			case models.AttendancePresent, models.AttendanceAbsent, models.AttendanceLate, models.AttendanceExcused:
				return true
			}
			return false
		})
	})
}
