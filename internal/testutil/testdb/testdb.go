//go:build testutil
// +build testutil

package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/models"
)

type DBHandle struct {
	DB     *sql.DB
	cancel func()
	stop   func(context.Context) error
}

func (h *DBHandle) Close() {
	if h.DB != nil {
		_ = h.DB.Close()
	}
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// Start поднимает postgres в контейнере и накатывает миграции goose.
func Start(ctx context.Context) (*DBHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:17-alpine"),
		postgres.WithDatabase("transport"),
		postgres.WithUsername("transport"),
		postgres.WithPassword("transport"),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, err
	}

	database, err := sql.Open("postgres", uri)
	if err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, err
	}
	if err := waitReady(ctx, database); err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, err
	}

	if err := db.Migrate(ctx, database); err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DBHandle{
		DB:     database,
		cancel: cancel,
		stop:   pg.Terminate,
	}, nil
}

// MustStart: Start для тестов: контейнер гасится в t.Cleanup.
func MustStart(t testing.TB) *DBHandle {
	t.Helper()
	h, err := Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h
}

func waitReady(ctx context.Context, database *sql.DB) error {
	dead := time.Now().Add(20 * time.Second)
	for time.Now().Before(dead) {
		if err := database.PingContext(ctx); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("db not ready")
}

func SeedUser(t testing.TB, q db.Querier, role models.Role, name string) models.User {
	t.Helper()
	id := uuid.NewString()[:8]
	u := models.User{
		Email:        id + "@test.local",
		PasswordHash: "x",
		Role:         role,
		FullName:     name,
		Phone:        "+1 555 0100",
	}
	if role == models.Driver {
		u.BusID = "bus-" + id
	}
	out, err := db.CreateUser(context.Background(), q, u)
	if err != nil {
		t.Fatal(err)
	}
	return *out
}

// SeedStudent: ребёнок at-home, закреплённый за водителем.
func SeedStudent(t testing.TB, q db.Querier, parent, driver models.User, name string) models.Student {
	t.Helper()
	s, err := db.CreateStudent(context.Background(), q, models.Student{
		FullName:       name,
		ParentID:       parent.ID,
		DriverID:       driver.ID,
		BusID:          driver.BusID,
		Status:         models.StatusAtHome,
		MonthlyFee:     2500,
		PickupAddress:  "1 Home St",
		DropoffAddress: "School No. 5",
	})
	if err != nil {
		t.Fatal(err)
	}
	return *s
}
