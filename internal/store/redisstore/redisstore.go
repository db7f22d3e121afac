// Package redisstore is a Redis-backed store.Gateway, grounded on the
// ManuGH-xg2g retrieval pack's internal/cache/redis.go (connection setup,
// JSON marshaling discipline, context-timeout-per-call style). It is the
// production Store Gateway backend: per-CRN and per-user JSON string
// values plus Redis sets for TrackedCRNs/TrackingUsers/NotifiedCRNs.
// AddUserToCRN and DeleteCRN update the bidirectional index in one
// MULTI/EXEC transaction (no WATCH); RemoveUserFromCRN issues separate
// commands, so its steps are not one transaction.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/store"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is a Redis-backed store.Gateway.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

var _ store.Gateway = (*Store)(nil)

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis store")
	return &Store{client: client, logger: logger}, nil
}

// NewFromClient wraps an already-constructed client (used by tests against
// miniredis).
func NewFromClient(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

func userKey(id string) string { return "user:" + id }
func userTrackedKey(id string) string { return "user:" + id + ":tracked" }
func userNotifiedKey(id string) string { return "user:" + id + ":notified" }
func crnKey(crn string) string { return "crn:" + crn }
func crnTrackingKey(crn string) string { return "crn:" + crn + ":tracking" }
func activeCRNsKey() string { return "crns:active" }

type userRecord struct {
	PhoneNumber      string                  `json:"phoneNumber,omitempty"`
	PushSubscription *model.PushSubscription `json:"pushSubscription,omitempty"`
}

type crnRecordFields struct {
	CourseName             string     `json:"courseName"`
	CourseID               string     `json:"courseId"`
	CourseSection          string     `json:"courseSection"`
	IsOpen                 bool       `json:"isOpen"`
	SeatsRemaining         int        `json:"seatsRemaining"`
	TotalSeats             int        `json:"totalSeats"`
	LastUpdated            time.Time  `json:"lastUpdated"`
	LastStatusChange       *time.Time `json:"lastStatusChange,omitempty"`
	ConsecutiveClosedCheck int        `json:"consecutiveClosedChecks"`
}

func asTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrTransient, err)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	raw, err := s.client.Get(ctx, userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, asTransient(err)
	}
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode user %s: %w", userID, err)
	}

	tracked, err := s.client.SMembers(ctx, userTrackedKey(userID)).Result()
	if err != nil {
		return nil, asTransient(err)
	}
	notified, err := s.client.SMembers(ctx, userNotifiedKey(userID)).Result()
	if err != nil {
		return nil, asTransient(err)
	}

	u := &model.User{
		ID:               userID,
		PhoneNumber:      rec.PhoneNumber,
		PushSubscription: rec.PushSubscription,
		TrackedCRNs:      toSet(tracked),
		NotifiedCRNs:     toSet(notified),
	}
	return u, nil
}

// PutUser writes the scalar fields of u and reconciles NotifiedCRNs against
// the stored set (TrackedCRNs membership is owned by AddUserToCRN/
// RemoveUserFromCRN and is intentionally left untouched here, matching
// spec.md §4.1's "preserves fields the caller did not touch").
func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	rec := userRecord{PhoneNumber: u.PhoneNumber, PushSubscription: u.PushSubscription}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: encode user %s: %w", u.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, userKey(u.ID), payload, 0)
	pipe.Del(ctx, userNotifiedKey(u.ID))
	if len(u.NotifiedCRNs) > 0 {
		pipe.SAdd(ctx, userNotifiedKey(u.ID), setToSlice(u.NotifiedCRNs)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return asTransient(err)
	}
	return nil
}

func (s *Store) ScanActiveCRNs(ctx context.Context) ([]*model.CrnRecord, error) {
	crns, err := s.client.SMembers(ctx, activeCRNsKey()).Result()
	if err != nil {
		return nil, asTransient(err)
	}
	out := make([]*model.CrnRecord, 0, len(crns))
	for _, crn := range crns {
		r, err := s.GetCRN(ctx, crn)
		if errors.Is(err, store.ErrNotFound) {
			// Index drifted (e.g. deleted between SMEMBERS and GET); skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) GetCRN(ctx context.Context, crn string) (*model.CrnRecord, error) {
	raw, err := s.client.Get(ctx, crnKey(crn)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, asTransient(err)
	}
	var fields crnRecordFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("redisstore: decode crn %s: %w", crn, err)
	}

	tracking, err := s.client.SMembers(ctx, crnTrackingKey(crn)).Result()
	if err != nil {
		return nil, asTransient(err)
	}

	return &model.CrnRecord{
		CRN:                    crn,
		CourseName:             fields.CourseName,
		CourseID:               fields.CourseID,
		CourseSection:          fields.CourseSection,
		IsOpen:                 fields.IsOpen,
		SeatsRemaining:         fields.SeatsRemaining,
		TotalSeats:             fields.TotalSeats,
		LastUpdated:            fields.LastUpdated,
		LastStatusChange:       fields.LastStatusChange,
		ConsecutiveClosedCheck: fields.ConsecutiveClosedCheck,
		TrackingUsers:          toSet(tracking),
	}, nil
}

// PutCRN writes only the scalar/availability fields; TrackingUsers and the
// active-CRN set are owned by AddUserToCRN/RemoveUserFromCRN/DeleteCRN and
// PutCRN touches neither, so a scheduler tick can never clobber a
// concurrent membership change.
func (s *Store) PutCRN(ctx context.Context, r *model.CrnRecord) error {
	fields := crnRecordFields{
		CourseName:             r.CourseName,
		CourseID:               r.CourseID,
		CourseSection:          r.CourseSection,
		IsOpen:                 r.IsOpen,
		SeatsRemaining:         r.SeatsRemaining,
		TotalSeats:             r.TotalSeats,
		LastUpdated:            r.LastUpdated,
		LastStatusChange:       r.LastStatusChange,
		ConsecutiveClosedCheck: r.ConsecutiveClosedCheck,
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("redisstore: encode crn %s: %w", r.CRN, err)
	}
	if err := s.client.Set(ctx, crnKey(r.CRN), payload, 0).Err(); err != nil {
		return asTransient(err)
	}
	return nil
}

func (s *Store) DeleteCRN(ctx context.Context, crn string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, crnKey(crn))
	pipe.Del(ctx, crnTrackingKey(crn))
	pipe.SRem(ctx, activeCRNsKey(), crn)
	_, err := pipe.Exec(ctx)
	return asTransient(err)
}

func (s *Store) AddUserToCRN(ctx context.Context, crn, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, crnTrackingKey(crn), userID)
	pipe.SAdd(ctx, activeCRNsKey(), crn)
	pipe.SAdd(ctx, userTrackedKey(userID), crn)
	// Ensure a user scalar record exists so GetUser doesn't 404 on a
	// tracking-only user (one who hasn't registered a phone yet).
	pipe.SetNX(ctx, userKey(userID), `{}`, 0)
	// Seed the CRN scalar record on first add so GetCRN/ScanActiveCRNs can
	// see it before any PutCRN (spec.md §3: created on first add by any
	// user). SetNX leaves an existing record untouched.
	pipe.SetNX(ctx, crnKey(crn), `{}`, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return asTransient(err)
	}
	return nil
}

func (s *Store) RemoveUserFromCRN(ctx context.Context, crn, userID string) error {
	if err := s.client.SRem(ctx, userTrackedKey(userID), crn).Err(); err != nil {
		return asTransient(err)
	}
	if err := s.client.SRem(ctx, crnTrackingKey(crn), userID).Err(); err != nil {
		return asTransient(err)
	}
	remaining, err := s.client.SCard(ctx, crnTrackingKey(crn)).Result()
	if err != nil {
		return asTransient(err)
	}
	if remaining == 0 {
		return s.DeleteCRN(ctx, crn)
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func setToSlice(s map[string]struct{}) []interface{} {
	out := make([]interface{}, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}
