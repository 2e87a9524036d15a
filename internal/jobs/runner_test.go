package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_EveryRecoversAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(ctx, nil)

	var calls int32
	r.Every(5*time.Millisecond, "test", func(context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			panic("boom")
		case 2:
			return errors.New("fail")
		}
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("job вызван %d раз, цикл остановился после паники/ошибки", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&calls) > stopped+1 {
		t.Fatal("job продолжает выполняться после отмены контекста")
	}
}
