// Package eta: оценка времени прибытия автобуса: расстояние по гаверсинусу
// и поправка на загруженность дорог по часу суток.
package eta

import (
	"fmt"
	"math"
	"time"
)

const (
	earthRadiusKm = 6371.0
	DefaultSpeed  = 30.0 // км/ч, городской режим
	StopDwell     = 2    // минут на каждой остановке после первой
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Stop struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Point Point  `json:"point"`
}

type Estimate struct {
	DistanceKm       float64   `json:"distanceKm"`
	Minutes          int       `json:"minutes"`
	Formatted        string    `json:"formatted"`
	ArrivalTime      time.Time `json:"arrivalTime"`
	TrafficFactor    float64   `json:"trafficFactor"`
	TrafficCondition string    `json:"trafficCondition"`
}

type StopEstimate struct {
	StopID      string    `json:"stopId"`
	StopName    string    `json:"stopName"`
	DistanceKm  float64   `json:"distanceKm"`
	Minutes     int       `json:"minutes"` // нарастающим итогом от текущей позиции
	Formatted   string    `json:"formatted"`
	ArrivalTime time.Time `json:"arrivalTime"`
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Distance: расстояние по большому кругу, км.
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// TrafficFactor по часу: час пик 7–9 и 16–19, 1.6, обед 11–14, 1.3, ночь 22–6, 0.9.
func TrafficFactor(hour int) float64 {
	switch {
	case (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 19):
		return 1.6
	case hour >= 11 && hour <= 14:
		return 1.3
	case hour >= 22 || hour <= 6:
		return 0.9
	}
	return 1.0
}

func TrafficCondition(factor float64) string {
	switch {
	case factor >= 1.5:
		return "heavy"
	case factor >= 1.2:
		return "moderate"
	}
	return "light"
}

// Minutes: время в пути с округлением вверх до минуты.
func Minutes(distanceKm, speedKmh, factor float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeed
	}
	if factor <= 0 {
		factor = 1
	}
	m := distanceKm * factor * 60 / speedKmh
	// погрешность float не должна добавлять лишнюю минуту
	return int(math.Ceil(m - 1e-9))
}

func Format(minutes int) string {
	if minutes < 1 {
		return "Arriving now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%d hr", h)
	}
	return fmt.Sprintf("%d hr %d min", h, m)
}

// Estimator считает ETA в заданном часовом поясе (для поправки на трафик).
type Estimator struct {
	Speed float64
	Loc   *time.Location
	Now   func() time.Time
}

func NewEstimator(loc *time.Location) *Estimator {
	if loc == nil {
		loc = time.UTC
	}
	return &Estimator{Speed: DefaultSpeed, Loc: loc, Now: time.Now}
}

func (e *Estimator) factor(now time.Time) float64 { return TrafficFactor(now.In(e.Loc).Hour()) }

func (e *Estimator) Estimate(bus, dest Point) Estimate {
	now := e.Now()
	f := e.factor(now)
	d := Distance(bus, dest)
	m := Minutes(d, e.Speed, f)
	return Estimate{
		DistanceKm:       math.Round(d*10) / 10,
		Minutes:          m,
		Formatted:        Format(m),
		ArrivalTime:      now.Add(time.Duration(m) * time.Minute),
		TrafficFactor:    f,
		TrafficCondition: TrafficCondition(f),
	}
}

// MultiStop: ETA по маршруту: время копится от остановки к остановке,
// на каждой остановке после первой добавляется StopDwell.
func (e *Estimator) MultiStop(bus Point, stops []Stop) []StopEstimate {
	if len(stops) == 0 {
		return nil
	}
	now := e.Now()
	f := e.factor(now)
	cur := bus
	total := 0
	out := make([]StopEstimate, 0, len(stops))
	for i, st := range stops {
		d := Distance(cur, st.Point)
		total += Minutes(d, e.Speed, f)
		if i > 0 {
			total += StopDwell
		}
		out = append(out, StopEstimate{
			StopID:      st.ID,
			StopName:    st.Name,
			DistanceKm:  math.Round(d*10) / 10,
			Minutes:     total,
			Formatted:   Format(total),
			ArrivalTime: now.Add(time.Duration(total) * time.Minute),
		})
		cur = st.Point
	}
	return out
}
