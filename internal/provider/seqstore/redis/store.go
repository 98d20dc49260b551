// Package redis is an opt-in, non-production seqstore.Store backend
// that backs allocation with a Redis INCRBY per label. It exists so
// multiple agent processes can be pointed at one shared counter in
// integration tests without a shared filesystem; it does not
// participate in the fsync/durability contract the file backend
// does — Redis's own persistence, if any, is out of scope here.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/uniqd/internal/provider/seqstore"
)

// Store is the redis-backed seqstore.Store.
type Store struct {
	logger *zap.Logger
	rdb    *goredis.Client
	key    string

	label       uint32
	renewalTime int64
	uncommitted uint32
	ioError     int32
	wake        chan struct{}
}

var _ seqstore.Store = (*Store)(nil)

// New creates an unconfigured redis Store, matching the shape of
// src/internal/provider/seqgen/redis/mseqgenerator.go's NewMSeqGenerator.
func New(logger *zap.Logger) *Store {
	return &Store{logger: logger, wake: make(chan struct{}, 1)}
}

func (s *Store) Name() string { return "redis" }

// Configure connects to Redis, reading addr/password/db/label out of
// config the same way MSeqGenerator.Configure does.
func (s *Store) Configure(ctx context.Context, config map[string]interface{}) error {
	addr, _ := config["addr"].(string)
	if addr == "" {
		return errors.New("redis seqstore: addr is required")
	}
	password, _ := config["password"].(string)

	db := 0
	switch v := config["db"].(type) {
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "redis seqstore: parse db")
		}
		db = parsed
	case int:
		db = v
	}

	label := uint32(0)
	if v, ok := config["label"].(int); ok {
		label = uint32(v)
	}

	s.rdb = goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis seqstore: ping")
	}
	s.label = label
	s.key = fmt.Sprintf("uniqd:seq:%d", label)
	return nil
}

// Allocate reserves n sequence numbers via INCRBY. Redis's atomic
// increment makes the reservation-ahead scheme unnecessary here: every
// call durably advances the counter before returning.
func (s *Store) Allocate(n uint32) (uint32, error) {
	if s.IOError() {
		return 0, nil
	}
	if n == 0 {
		n = 1
	}
	ctx := context.Background()
	newVal, err := s.rdb.IncrBy(ctx, s.key, int64(n)).Result()
	if err != nil {
		atomic.StoreInt32(&s.ioError, 1)
		s.logger.Error("redis seqstore allocate failed", zap.Error(err))
		return 0, errors.Wrap(err, "redis seqstore: incrby")
	}
	result := uint32(newVal) - n + 1
	if result == 0 {
		result = 1
	}
	atomic.AddUint32(&s.uncommitted, n)
	return result, nil
}

func (s *Store) Label() uint8 { return uint8(s.label) }

func (s *Store) SetLabel(label uint8) error {
	s.label = uint32(label)
	s.key = fmt.Sprintf("uniqd:seq:%d", label)
	return nil
}

func (s *Store) LastRenewalTime() int64 { return atomic.LoadInt64(&s.renewalTime) }

func (s *Store) SetLastRenewalTime(unixSeconds int64) error {
	atomic.StoreInt64(&s.renewalTime, unixSeconds)
	return nil
}

func (s *Store) IOError() bool { return atomic.LoadInt32(&s.ioError) == 1 }

func (s *Store) Uncommitted() uint32 { return atomic.LoadUint32(&s.uncommitted) }

// Flush performs no sync; it only resets the uncommitted counter,
// since every Allocate has already been applied in Redis.
func (s *Store) Flush() error {
	atomic.StoreUint32(&s.uncommitted, 0)
	return nil
}

func (s *Store) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
