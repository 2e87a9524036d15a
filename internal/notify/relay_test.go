package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/Spok95/school-transport/internal/models"
)

type fakeChannel struct {
	name string
	err  error
	got  []string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(_ context.Context, n models.Notification, _ models.User) error {
	f.got = append(f.got, n.ID)
	return f.err
}

func users(ids ...string) func(string) (*models.User, error) {
	known := map[string]bool{}
	for _, id := range ids {
		known[id] = true
	}
	return func(id string) (*models.User, error) {
		if !known[id] {
			return nil, errors.New("no user")
		}
		return &models.User{ID: id}, nil
	}
}

func TestRelayDeliver(t *testing.T) {
	ok1 := &fakeChannel{name: "a"}
	skip := &fakeChannel{name: "b", err: ErrSkip}
	r := NewRelay(nil, nil, ok1, skip)

	batch := []models.Notification{
		{ID: "n1", RecipientID: "u1"},
		{ID: "n2", RecipientID: "ghost"},
	}
	ok, failed := r.deliver(context.Background(), batch, users("u1"))

	if len(ok) != 1 || ok[0] != "n1" {
		t.Fatalf("ok = %v", ok)
	}
	if len(failed) != 1 || failed[0] != "n2" {
		t.Fatalf("failed = %v", failed)
	}
	if len(ok1.got) != 1 || len(skip.got) != 1 {
		t.Fatalf("каналы вызваны неверно: %v %v", ok1.got, skip.got)
	}
}

func TestRelayDeliver_ChannelFailureRetries(t *testing.T) {
	good := &fakeChannel{name: "a"}
	bad := &fakeChannel{name: "b", err: errors.New("broker down")}
	r := NewRelay(nil, nil, good, bad)

	ok, failed := r.deliver(context.Background(), []models.Notification{{ID: "n1", RecipientID: "u1"}}, users("u1"))
	if len(ok) != 0 || len(failed) != 1 {
		t.Fatalf("ok=%v failed=%v", ok, failed)
	}
}

func TestRelayDeliver_NoChannels(t *testing.T) {
	r := NewRelay(nil, nil)
	ok, failed := r.deliver(context.Background(), []models.Notification{{ID: "n1", RecipientID: "u1"}}, users("u1"))
	if len(ok) != 1 || len(failed) != 0 {
		t.Fatalf("ok=%v failed=%v", ok, failed)
	}
}
