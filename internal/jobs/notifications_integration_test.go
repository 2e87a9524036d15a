//go:build testutil
// +build testutil

package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/jobs"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
	"github.com/Spok95/school-transport/internal/testutil/testdb"
)

func TestExpiringJobRemindsOncePerDueDate(t *testing.T) {
	h := testdb.MustStart(t)
	ctx := context.Background()
	parent := testdb.SeedUser(t, h.DB, models.Parent, "Анна")
	driver := testdb.SeedUser(t, h.DB, models.Driver, "Борис")
	st := testdb.SeedStudent(t, h.DB, parent, driver, "Миша")

	now := time.Now()
	soon, err := db.CreateSubscription(ctx, h.DB, models.Subscription{
		ParentID: parent.ID, DriverID: driver.ID, StudentID: st.ID,
		MonthlyFee: 2500, Currency: "USD", StartDate: now, NextPaymentDate: now.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateSubscription(ctx, h.DB, models.Subscription{
		ParentID: parent.ID, DriverID: driver.ID, StudentID: st.ID,
		MonthlyFee: 2500, Currency: "USD", StartDate: now, NextPaymentDate: now.AddDate(0, 0, 20),
	}); err != nil {
		t.Fatal(err)
	}

	svc := notify.NewService(h.DB, nil)
	job := jobs.ExpiringJob(h.DB, svc, 3, time.UTC, nil)
	for i := 0; i < 2; i++ {
		if err := job(ctx); err != nil {
			t.Fatal(err)
		}
	}

	list, err := svc.List(ctx, parent.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("ожидали одно напоминание, получили %d", len(list))
	}
	if list[0].Type != models.NotifySubscriptionExpiring || list[0].Data["subscriptionId"] != soon.ID {
		t.Fatalf("%+v", list[0])
	}
}
