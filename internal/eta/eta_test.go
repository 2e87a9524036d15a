package eta

import (
	"math"
	"testing"
	"time"
)

func TestDistance(t *testing.T) {
	// один градус долготы на экваторе ≈ 111.19 км
	d := Distance(Point{0, 0}, Point{0, 1})
	if math.Abs(d-111.19) > 0.01 {
		t.Fatalf("distance = %v", d)
	}
	if Distance(Point{55.75, 37.61}, Point{55.75, 37.61}) != 0 {
		t.Fatal("расстояние до себя должно быть 0")
	}
}

func TestTrafficFactor(t *testing.T) {
	cases := map[int]float64{
		0: 0.9, 6: 0.9, 7: 1.6, 9: 1.6, 10: 1.0, 11: 1.3, 14: 1.3,
		15: 1.0, 16: 1.6, 19: 1.6, 20: 1.0, 21: 1.0, 22: 0.9, 23: 0.9,
	}
	for h, want := range cases {
		if got := TrafficFactor(h); got != want {
			t.Fatalf("TrafficFactor(%d) = %v, want %v", h, got, want)
		}
	}
	if TrafficCondition(1.6) != "heavy" || TrafficCondition(1.3) != "moderate" || TrafficCondition(0.9) != "light" {
		t.Fatal("неверные условия трафика")
	}
}

func TestMinutesAndFormat(t *testing.T) {
	if got := Minutes(10, 30, 1); got != 20 {
		t.Fatalf("Minutes = %d", got)
	}
	if got := Minutes(10, 30, 1.6); got != 32 {
		t.Fatalf("Minutes rush = %d", got)
	}
	if got := Minutes(0.01, 30, 1); got != 1 {
		t.Fatalf("Minutes short = %d", got)
	}

	cases := map[int]string{0: "Arriving now", 5: "5 min", 60: "1 hr", 75: "1 hr 15 min", 120: "2 hr"}
	for m, want := range cases {
		if got := Format(m); got != want {
			t.Fatalf("Format(%d) = %q, want %q", m, got, want)
		}
	}
}

func fixed(hour int) *Estimator {
	e := NewEstimator(time.UTC)
	e.Now = func() time.Time { return time.Date(2025, 9, 1, hour, 0, 0, 0, time.UTC) }
	return e
}

func TestEstimate(t *testing.T) {
	e := fixed(10)
	est := e.Estimate(Point{0, 0}, Point{0, 1})
	// 111.19 км при 30 км/ч → 222.4 мин → 223
	if est.Minutes != 223 || est.Formatted != "3 hr 43 min" {
		t.Fatalf("estimate = %#v", est)
	}
	if est.TrafficCondition != "light" || est.DistanceKm != 111.2 {
		t.Fatalf("estimate = %#v", est)
	}
	if !est.ArrivalTime.Equal(e.Now().Add(223 * time.Minute)) {
		t.Fatalf("arrival = %v", est.ArrivalTime)
	}
}

func TestMultiStop(t *testing.T) {
	e := fixed(10)
	e.Speed = 60
	// 0.1° широты ≈ 11.12 км → 12 мин при 60 км/ч
	stops := []Stop{
		{ID: "a", Point: Point{0.1, 0}},
		{ID: "b", Point: Point{0.2, 0}},
		{ID: "c", Point: Point{0.2, 0}},
	}
	got := e.MultiStop(Point{0, 0}, stops)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	want := []int{12, 12 + 12 + StopDwell, 12 + 12 + StopDwell + 0 + StopDwell}
	for i, w := range want {
		if got[i].Minutes != w {
			t.Fatalf("stop %d: minutes = %d, want %d", i, got[i].Minutes, w)
		}
	}
	if e.MultiStop(Point{}, nil) != nil {
		t.Fatal("пустой маршрут → nil")
	}
}
