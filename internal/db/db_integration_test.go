//go:build testutil
// +build testutil

package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/testutil/testdb"
)

func TestOneInProgressTripPerChild(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	parent := testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	driver := testdb.SeedUser(t, h.DB, models.Driver, "Борис")
	st := testdb.SeedStudent(t, h.DB, parent, driver, "Миша")

	if _, err := db.StartTrip(ctx, h.DB, st, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.StartTrip(ctx, h.DB, st, time.Now()); err == nil {
		t.Fatal("вторая открытая поездка должна нарушать уникальный индекс")
	}

	n, err := db.CancelStaleTrips(ctx, h.DB, st.ID, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("CancelStaleTrips: %d %v", n, err)
	}
	if _, err := db.CompleteLatestTrip(ctx, h.DB, st.ID, time.Now()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("без открытой поездки ожидали ErrNotFound: %v", err)
	}
}

func TestCompleteLatestTripPicksNewest(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	parent := testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	driver := testdb.SeedUser(t, h.DB, models.Driver, "Борис")
	st := testdb.SeedStudent(t, h.DB, parent, driver, "Миша")

	old, err := db.StartTrip(ctx, h.DB, st, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.CancelStaleTrips(ctx, h.DB, st.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	fresh, err := db.StartTrip(ctx, h.DB, st, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	done, err := db.CompleteLatestTrip(ctx, h.DB, st.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if done.ID != fresh.ID || done.ID == old.ID || done.Status != models.TripCompleted {
		t.Fatalf("%+v", done)
	}
}

func TestAttendancePickupKeepsFirstTime(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	parent := testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	driver := testdb.SeedUser(t, h.DB, models.Driver, "Борис")
	st := testdb.SeedStudent(t, h.DB, parent, driver, "Миша")

	if _, err := db.StampDropoffAttendance(ctx, h.DB, st.ID, "2025-03-10", time.Now()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("без записи ожидали ErrNotFound: %v", err)
	}

	first := time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC)
	a, err := db.UpsertPickupAttendance(ctx, h.DB, st, "2025-03-10", first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.UpsertPickupAttendance(ctx, h.DB, st, "2025-03-10", first.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID || b.PickupTime == nil || !b.PickupTime.Equal(first) {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
	c, err := db.StampDropoffAttendance(ctx, h.DB, st.ID, "2025-03-10", first.Add(8*time.Hour))
	if err != nil || c.DropoffTime == nil {
		t.Fatalf("dropoff: %+v %v", c, err)
	}

	list, err := db.ListAttendance(ctx, h.DB, db.AttendanceFilter{DriverID: driver.ID, From: "2025-03-01", To: "2025-03-31"})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListAttendance: %d %v", len(list), err)
	}
	if list, _ := db.ListAttendance(ctx, h.DB, db.AttendanceFilter{DriverID: driver.ID, From: "2025-04-01"}); len(list) != 0 {
		t.Fatalf("фильтр по дате не работает: %+v", list)
	}
}

func TestIdempotencyKeys(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	driver := testdb.SeedUser(t, h.DB, models.Driver, "Борис")
	other := testdb.SeedUser(t, h.DB, models.Driver, "Вера")

	key := db.IdemKey{Scope: "scope", ActorID: driver.ID, Key: "k1", Target: "target-1"}
	claim := func(k db.IdemKey) (bool, string, error) {
		var first bool
		var res string
		err := db.WithTx(ctx, h.DB, func(tx *sql.Tx) error {
			var err error
			first, res, err = db.ClaimIdempotencyKey(ctx, tx, k)
			if err != nil || !first {
				return err
			}
			return db.SetIdempotencyResult(ctx, tx, k, "result-"+k.ActorID)
		})
		return first, res, err
	}

	if first, _, err := claim(key); err != nil || !first {
		t.Fatalf("первый захват: %v %v", first, err)
	}
	first, res, err := claim(key)
	if err != nil || first || res != "result-"+driver.ID {
		t.Fatalf("повтор: first=%v res=%q err=%v", first, res, err)
	}

	moved := key
	moved.Target = "target-2"
	if _, _, err := claim(moved); !errors.Is(err, db.ErrKeyReused) {
		t.Fatalf("ключ для другого объекта: %v", err)
	}

	foreign := key
	foreign.ActorID = other.ID
	first, res, err = claim(foreign)
	if err != nil || !first || res != "" {
		t.Fatalf("ключ другого пользователя не должен совпадать: first=%v res=%q err=%v", first, res, err)
	}
}

func TestSavepointKeepsTransaction(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	parent := testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	driver := testdb.SeedUser(t, h.DB, models.Driver, "Борис")

	var studentID string
	err := db.WithTx(ctx, h.DB, func(tx *sql.Tx) error {
		st, err := db.CreateStudent(ctx, tx, models.Student{FullName: "Миша", ParentID: parent.ID, DriverID: driver.ID})
		if err != nil {
			return err
		}
		studentID = st.ID
		spErr := db.Savepoint(ctx, tx, "bad_insert", func() error {
			_, err := db.InsertNotification(ctx, tx, models.Notification{RecipientID: "not-a-uuid", Type: models.NotifyMessage})
			return err
		})
		if spErr == nil {
			t.Fatal("ожидали ошибку вставки")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("транзакция должна пережить откат до savepoint: %v", err)
	}
	if _, err := db.GetStudent(ctx, h.DB, studentID); err != nil {
		t.Fatalf("ученик не сохранился: %v", err)
	}
}

func TestClaimUndeliveredSkipsLocked(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	parent := testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	for i := 0; i < 4; i++ {
		if _, err := db.InsertNotification(ctx, h.DB, models.Notification{
			RecipientID: parent.ID, Type: models.NotifyMessage, Title: "t", Body: "b", CreatedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	tx1, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx1.Rollback() }()
	a, err := db.ClaimUndelivered(ctx, tx1, 5, 2)
	if err != nil || len(a) != 2 {
		t.Fatalf("tx1: %d %v", len(a), err)
	}

	tx2, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx2.Rollback() }()
	b, err := db.ClaimUndelivered(ctx, tx2, 5, 10)
	if err != nil || len(b) != 2 {
		t.Fatalf("tx2 должен получить только незаблокированные: %d %v", len(b), err)
	}
	for _, x := range b {
		for _, y := range a {
			if x.ID == y.ID {
				t.Fatalf("%s выдано дважды", x.ID)
			}
		}
	}
}
