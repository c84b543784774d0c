package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campusride/internal/models"
)

// HashClient is the subset of redis used by the mirror. PutIfNewer must
// compare and write in one atomic step; it reports whether it wrote.
type HashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	PutIfNewer(ctx context.Context, key string, version int64, values map[string]string) (bool, error)
}

// putIfNewer runs server side so concurrent writers (API and consumer) cannot
// interleave between the version read and the write.
var putIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return 1
`)

type redisHash struct{ c *redis.Client }

func (r redisHash) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.c.HGetAll(ctx, key).Result()
}

func (r redisHash) PutIfNewer(ctx context.Context, key string, version int64, values map[string]string) (bool, error) {
	args := make([]interface{}, 0, 1+2*len(values))
	args = append(args, version)
	for k, v := range values {
		args = append(args, k, v)
	}
	n, err := putIfNewer.Run(ctx, r.c, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var ErrCorruptSnapshot = errors.New("corrupt offer snapshot")

// RedisMirror keeps one hash per offer so other clients can read seat counts
// without going through the API.
type RedisMirror struct {
	client HashClient
	prefix string
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

func NewRedisMirror(c *redis.Client, prefix string) *RedisMirror {
	return NewRedisMirrorWith(redisHash{c: c}, prefix)
}

func NewRedisMirrorWith(c HashClient, prefix string) *RedisMirror {
	if prefix == "" {
		prefix = "offer:"
	}
	return &RedisMirror{client: c, prefix: prefix}
}

func (r *RedisMirror) SaveOffer(ctx context.Context, o models.RideOffer) error {
	return r.PutOffer(ctx, o)
}

func (r *RedisMirror) UpdateOffer(ctx context.Context, o models.RideOffer) error {
	return r.PutOffer(ctx, o)
}

// PutOffer writes the snapshot unless the stored one is at least as new.
func (r *RedisMirror) PutOffer(ctx context.Context, o models.RideOffer) error {
	_, err := r.client.PutIfNewer(ctx, r.key(o.ID), o.Version, map[string]string{
		"id":           o.ID,
		"driver_id":    deref(o.DriverID),
		"driver_name":  deref(o.DriverName),
		"vehicle_type": string(o.VehicleType),
		"origin":       o.Origin,
		"destination":  o.Destination,
		"total_seats":  strconv.Itoa(o.TotalSeats),
		"booked_seats": strconv.Itoa(o.BookedSeats),
		"status":       string(o.Status),
		"price":        strconv.FormatFloat(o.Price, 'f', 2, 64),
		"version":      strconv.FormatInt(o.Version, 10),
		"created_at":   o.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   o.UpdatedAt.Format(time.RFC3339Nano),
	})
	return err
}

// Fetch reads a mirrored snapshot back; ok is false when nothing is stored.
// A hash with unparsable fields is an error, never a zero-valued offer.
func (r *RedisMirror) Fetch(ctx context.Context, id string) (models.RideOffer, bool, error) {
	m, err := r.client.HGetAll(ctx, r.key(id))
	if err != nil {
		return models.RideOffer{}, false, err
	}
	if len(m) == 0 {
		return models.RideOffer{}, false, nil
	}
	o := models.RideOffer{
		ID:          m["id"],
		VehicleType: models.VehicleType(m["vehicle_type"]),
		Origin:      m["origin"],
		Destination: m["destination"],
		Status:      models.RideStatus(m["status"]),
	}
	if v := m["driver_id"]; v != "" {
		o.DriverID = &v
	}
	if v := m["driver_name"]; v != "" {
		o.DriverName = &v
	}
	var errs []error
	parse := func(field string, fn func(string) error) {
		if err := fn(m[field]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	parse("total_seats", func(v string) (err error) { o.TotalSeats, err = strconv.Atoi(v); return })
	parse("booked_seats", func(v string) (err error) { o.BookedSeats, err = strconv.Atoi(v); return })
	parse("price", func(v string) (err error) { o.Price, err = strconv.ParseFloat(v, 64); return })
	parse("version", func(v string) (err error) { o.Version, err = strconv.ParseInt(v, 10, 64); return })
	parse("created_at", func(v string) (err error) { o.CreatedAt, err = time.Parse(time.RFC3339Nano, v); return })
	parse("updated_at", func(v string) (err error) { o.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); return })
	if err := errors.Join(errs...); err != nil {
		return models.RideOffer{}, false, fmt.Errorf("%w: offer %s: %w", ErrCorruptSnapshot, id, err)
	}
	return o, true, nil
}

func (r *RedisMirror) key(id string) string { return r.prefix + id }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
