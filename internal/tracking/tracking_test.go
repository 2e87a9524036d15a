//go:build testutil
// +build testutil

package tracking_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/lifecycle"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
	"github.com/Spok95/school-transport/internal/testutil/testdb"
	"github.com/Spok95/school-transport/internal/tracking"
)

type fixture struct {
	h       *testdb.DBHandle
	svc     *tracking.Service
	parent  models.User
	driver  models.User
	student models.Student
}

func setup(t *testing.T, strict bool) *fixture {
	t.Helper()
	h := testdb.MustStart(t)
	f := &fixture{h: h}
	f.parent = testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	f.driver = testdb.SeedUser(t, h.DB, models.Driver, "Борис")
	f.student = testdb.SeedStudent(t, h.DB, f.parent, f.driver, "Миша")
	f.svc = tracking.NewService(h.DB, notify.NewService(h.DB, nil), nil, tracking.Options{Strict: strict})
	return f
}

func as(u models.User) context.Context {
	return ctxutil.WithSession(context.Background(), ctxutil.Session{UserID: u.ID, Role: u.Role, BusID: u.BusID})
}

func (f *fixture) change(t *testing.T, status string) *tracking.Transition {
	t.Helper()
	tr, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, status, "")
	if err != nil {
		t.Fatalf("%s: %v", status, err)
	}
	return tr
}

func (f *fixture) notifications(t *testing.T, typ models.NotificationType) int {
	t.Helper()
	list, err := db.ListNotifications(context.Background(), f.h.DB, f.parent.ID, false, 200)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, x := range list {
		if x.Type == typ {
			n++
		}
	}
	return n
}

func (f *fixture) parentInbox(t *testing.T) []models.Notification {
	t.Helper()
	list, err := db.ListNotifications(context.Background(), f.h.DB, f.parent.ID, false, 200)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestOneNotificationPerTransition(t *testing.T) {
	f := setup(t, false)
	for _, status := range []string{"picked-up", "in-transit-to-school", "dropped-at-school", "in-transit-to-home", "dropped-at-home"} {
		before := len(f.parentInbox(t))
		f.change(t, status)
		if got := len(f.parentInbox(t)) - before; got != 1 {
			t.Fatalf("%s: уведомлений родителю %d, ожидали 1", status, got)
		}
	}
	inbox := f.parentInbox(t)
	last := inbox[0]
	if last.Type != models.NotifyStatusChange || last.Data["tripId"] == "" || !strings.Contains(last.Body, "Trip completed") {
		t.Fatalf("высадка без итога поездки: %+v", last)
	}
}

func TestDayCycle(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	tr := f.change(t, "picked-up")
	if !tr.TripOpened || tr.AttendanceID == "" || tr.NotificationID == "" || !tr.Legal {
		t.Fatalf("посадка: %+v", tr)
	}
	trips, err := db.ListTrips(ctx, f.h.DB, db.TripFilter{ChildID: f.student.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(trips) != 1 || trips[0].Status != models.TripInProgress {
		t.Fatalf("ожидали одну открытую поездку: %+v", trips)
	}

	// переход внутри группы "в автобусе" новую поездку не открывает
	if tr := f.change(t, "in-transit-to-school"); tr.TripOpened || tr.TripClosed {
		t.Fatalf("in-transit: %+v", tr)
	}

	tr = f.change(t, "dropped-at-school")
	if !tr.TripClosed || tr.TripID != trips[0].ID {
		t.Fatalf("высадка: %+v", tr)
	}
	trips, _ = db.ListTrips(ctx, f.h.DB, db.TripFilter{ChildID: f.student.ID})
	if trips[0].Status != models.TripCompleted || trips[0].EndedAt == nil {
		t.Fatalf("поездка не закрыта: %+v", trips[0])
	}

	att, err := db.ListAttendance(ctx, f.h.DB, db.AttendanceFilter{StudentID: f.student.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(att) != 1 || att[0].Status != models.AttendancePresent || att[0].PickupTime == nil || att[0].DropoffTime == nil {
		t.Fatalf("посещаемость: %+v", att)
	}

	if got := f.notifications(t, models.NotifyStatusChange); got != 3 {
		t.Fatalf("status-change уведомлений %d, ожидали 3", got)
	}
	if got := len(f.parentInbox(t)); got != 3 {
		t.Fatalf("всего уведомлений родителю %d, ожидали 3", got)
	}

	st, _ := db.GetStudent(ctx, f.h.DB, f.student.ID)
	if st.Status != models.StatusDroppedAtSchool || st.UpdatedBy != f.driver.ID || st.LastStatusUpdate == nil {
		t.Fatalf("студент: %+v", st)
	}
}

func TestSameStatusWritesNothing(t *testing.T) {
	f := setup(t, false)
	tr := f.change(t, "at-home")
	if tr.TripOpened || tr.NotificationID != "" || !tr.Legal {
		t.Fatalf("%+v", tr)
	}
	if got := f.notifications(t, models.NotifyStatusChange); got != 0 {
		t.Fatalf("уведомлений %d", got)
	}
}

func TestDropoffWithoutTrip(t *testing.T) {
	f := setup(t, false)
	tr := f.change(t, "dropped-at-home")
	if tr.Legal {
		t.Fatal("at-home → dropped-at-home нет в таблице переходов")
	}
	if tr.TripClosed || tr.AttendanceID != "" {
		t.Fatalf("без поездки и посещаемости ничего не закрываем: %+v", tr)
	}
	if got := f.notifications(t, models.NotifyStatusChange); got != 1 {
		t.Fatalf("уведомлений %d", got)
	}
}

func TestStrictRejectsIllegal(t *testing.T) {
	f := setup(t, true)
	_, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, "dropped-at-home", "")
	if !errors.Is(err, tracking.ErrIllegalTransition) {
		t.Fatalf("err = %v", err)
	}
	st, _ := db.GetStudent(context.Background(), f.h.DB, f.student.ID)
	if st.Status != models.StatusAtHome {
		t.Fatalf("статус изменился: %s", st.Status)
	}
	if got := f.notifications(t, models.NotifyStatusChange); got != 0 {
		t.Fatalf("уведомлений %d", got)
	}
}

func TestRepickupCancelsStaleTrip(t *testing.T) {
	f := setup(t, false)
	f.change(t, "picked-up")
	f.change(t, "at-home")
	tr := f.change(t, "picked-up")
	if tr.StaleTrips != 1 || !tr.TripOpened {
		t.Fatalf("%+v", tr)
	}
	open, _ := db.ListTrips(context.Background(), f.h.DB, db.TripFilter{ChildID: f.student.ID, Status: models.TripInProgress})
	cancelled, _ := db.ListTrips(context.Background(), f.h.DB, db.TripFilter{ChildID: f.student.ID, Status: models.TripCancelled})
	if len(open) != 1 || len(cancelled) != 1 {
		t.Fatalf("open=%d cancelled=%d", len(open), len(cancelled))
	}
}

func TestOnlyAssignedDriver(t *testing.T) {
	f := setup(t, false)
	other := testdb.SeedUser(t, f.h.DB, models.Driver, "Чужой")

	if _, err := f.svc.ChangeStatus(as(other), f.student.ID, "picked-up", ""); !errors.Is(err, tracking.ErrNotAssigned) {
		t.Fatalf("чужой водитель: %v", err)
	}
	if _, err := f.svc.ChangeStatus(as(f.parent), f.student.ID, "picked-up", ""); !errors.Is(err, tracking.ErrNotAssigned) {
		t.Fatalf("родитель: %v", err)
	}
	if _, err := f.svc.ChangeStatus(context.Background(), f.student.ID, "picked-up", ""); !errors.Is(err, ctxutil.ErrNoSession) {
		t.Fatalf("без сессии: %v", err)
	}
	if _, err := f.svc.ChangeStatus(as(f.driver), "00000000-0000-0000-0000-000000000000", "picked-up", ""); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("нет ребёнка: %v", err)
	}
}

func TestReplayWithSameKey(t *testing.T) {
	f := setup(t, false)
	first, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, "picked-up", "tap-1")
	if err != nil {
		t.Fatal(err)
	}
	again, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, "picked-up", "tap-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Replayed || !again.Replayed {
		t.Fatalf("first=%+v again=%+v", first, again)
	}
	trips, _ := db.ListTrips(context.Background(), f.h.DB, db.TripFilter{ChildID: f.student.ID})
	if len(trips) != 1 {
		t.Fatalf("поездок %d", len(trips))
	}
}

func TestReplayKeyIsBoundToTarget(t *testing.T) {
	f := setup(t, false)
	if _, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, "picked-up", "tap-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, "dropped-at-school", "tap-1"); !errors.Is(err, db.ErrKeyReused) {
		t.Fatalf("тот же ключ с другим статусом: %v", err)
	}
	st, _ := db.GetStudent(context.Background(), f.h.DB, f.student.ID)
	if st.Status != models.StatusPickedUp {
		t.Fatalf("статус %s", st.Status)
	}

	other := testdb.SeedUser(t, f.h.DB, models.Driver, "Вера")
	if _, err := f.svc.ChangeStatus(as(other), f.student.ID, "picked-up", "tap-1"); !errors.Is(err, tracking.ErrNotAssigned) {
		t.Fatalf("чужой водитель с тем же ключом: %v", err)
	}
}

func TestConcurrentPickupsOpenOneTrip(t *testing.T) {
	f := setup(t, false)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, "picked-up", fmt.Sprintf("k-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	trips, _ := db.ListTrips(context.Background(), f.h.DB, db.TripFilter{ChildID: f.student.ID})
	if len(trips) != 1 {
		t.Fatalf("поездок %d, ожидали 1", len(trips))
	}
	if got := f.notifications(t, models.NotifyStatusChange); got != 1 {
		t.Fatalf("уведомлений %d", got)
	}
}

func TestEmergencyNotifiesDriver(t *testing.T) {
	f := setup(t, false)
	e, err := f.svc.ReportEmergency(as(f.parent), f.student.ID, "Running late", "5 минут")
	if err != nil {
		t.Fatal(err)
	}
	if e.DriverID != f.driver.ID || e.Status == "" {
		t.Fatalf("%+v", e)
	}
	list, err := db.ListNotifications(context.Background(), f.h.DB, f.driver.ID, true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Type != models.NotifyEmergency {
		t.Fatalf("уведомления водителя: %+v", list)
	}
	if _, err := f.svc.ReportEmergency(as(f.driver), f.student.ID, "x", ""); !errors.Is(err, tracking.ErrForbidden) {
		t.Fatalf("водитель не шлёт экстренные: %v", err)
	}
	got, err := f.svc.Emergencies(as(f.driver), 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("emergencies: %v %d", err, len(got))
	}
}

func TestMarkAttendanceToday(t *testing.T) {
	f := setup(t, false)
	rec, err := f.svc.MarkAttendance(as(f.driver), f.student.ID, "", models.AttendanceAbsent)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.AttendanceAbsent || rec.Date.Format("2006-01-02") != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("%+v", rec)
	}
}

func TestEveryTransitionAppliesWhenNotStrict(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	for _, from := range lifecycle.All {
		for _, to := range lifecycle.All {
			if from == to {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				if err := db.UpdateStudentStatus(ctx, f.h.DB, f.student.ID, from, f.driver.ID, time.Now()); err != nil {
					t.Fatal(err)
				}
				before := len(f.parentInbox(t))
				tr, err := f.svc.ChangeStatus(as(f.driver), f.student.ID, string(to), "")
				if err != nil {
					t.Fatal(err)
				}
				if tr.Old != from || tr.New != to || tr.Legal != lifecycle.CanTransition(from, to) {
					t.Fatalf("%+v", tr)
				}
				st, err := db.GetStudent(ctx, f.h.DB, f.student.ID)
				if err != nil {
					t.Fatal(err)
				}
				if st.Status != to {
					t.Fatalf("статус %s, ожидали %s", st.Status, to)
				}
				if got := len(f.parentInbox(t)) - before; got != 1 {
					t.Fatalf("уведомлений %d", got)
				}
			})
		}
	}
}
