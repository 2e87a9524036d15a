// Package livelocation: последние координаты автобусов в Redis и рассылка обновлений.
package livelocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
)

const keyPrefix = "live:bus:"

var (
	ErrNoLocation = errors.New("no live location for bus")
	ErrBadCoords  = errors.New("coordinates out of range")
)

func locationKey(busID string) string { return keyPrefix + busID }

func UpdatesChannel(busID string) string { return keyPrefix + busID + ":updates" }

// Store: hash live:bus:{id} перезаписывается по полям (HSET = merge) и живёт TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

func NewStore(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, ttl: ttl, log: log.Named("livelocation"), now: time.Now}
}

func ValidCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func toHash(l models.LiveLocation) map[string]interface{} {
	return map[string]interface{}{
		"bus_id":     l.BusID,
		"driver_id":  l.DriverID,
		"lat":        strconv.FormatFloat(l.Lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(l.Lng, 'f', -1, 64),
		"accuracy":   strconv.FormatFloat(l.Accuracy, 'f', -1, 64),
		"updated_at": l.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromHash(busID string, h map[string]string) (*models.LiveLocation, error) {
	if len(h) == 0 {
		return nil, ErrNoLocation
	}
	l := &models.LiveLocation{BusID: busID, DriverID: h["driver_id"]}
	var err error
	if l.Lat, err = strconv.ParseFloat(h["lat"], 64); err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	if l.Lng, err = strconv.ParseFloat(h["lng"], 64); err != nil {
		return nil, fmt.Errorf("lng: %w", err)
	}
	if v := h["accuracy"]; v != "" {
		l.Accuracy, _ = strconv.ParseFloat(v, 64)
	}
	if v := h["updated_at"]; v != "" {
		l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return l, nil
}

// Update записывает позицию и публикует её подписчикам автобуса.
func (s *Store) Update(ctx context.Context, busID, driverID string, lat, lng, accuracy float64) (*models.LiveLocation, error) {
	if busID == "" {
		return nil, errors.New("bus id is required")
	}
	if !ValidCoords(lat, lng) {
		return nil, ErrBadCoords
	}
	l := models.LiveLocation{
		BusID:     busID,
		DriverID:  driverID,
		Lat:       lat,
		Lng:       lng,
		Accuracy:  accuracy,
		UpdatedAt: s.now(),
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}

	key := locationKey(busID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, toHash(l))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Publish(ctx, UpdatesChannel(busID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store location: %w", err)
	}
	metrics.LocationUpdates.Inc()
	return &l, nil
}

func (s *Store) Get(ctx context.Context, busID string) (*models.LiveLocation, error) {
	h, err := s.rdb.HGetAll(ctx, locationKey(busID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoLocation
		}
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return fromHash(busID, h)
}

// Stop: водитель закончил трансляцию: позиция удаляется.
func (s *Store) Stop(ctx context.Context, busID string) error {
	return s.rdb.Del(ctx, locationKey(busID)).Err()
}

// Subscribe отдаёт обновления автобуса до отмены ctx. Канал закрывается при выходе.
func (s *Store) Subscribe(ctx context.Context, busID string) <-chan models.LiveLocation {
	out := make(chan models.LiveLocation, 8)
	sub := s.rdb.Subscribe(ctx, UpdatesChannel(busID))
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var l models.LiveLocation
				if err := json.Unmarshal([]byte(msg.Payload), &l); err != nil {
					s.log.Warn("bad location payload", zap.String("bus", busID), zap.Error(err))
					continue
				}
				pushLatest(out, l)
			}
		}
	}()
	return out
}

// pushLatest кладёт позицию в буфер без блокировки. Если клиент не успевает,
// выбрасывается самая старая позиция, а не новая.
func pushLatest(out chan models.LiveLocation, l models.LiveLocation) {
	for {
		select {
		case out <- l:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
