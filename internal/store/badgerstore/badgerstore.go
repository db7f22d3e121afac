// Package badgerstore is an embedded, single-instance store.Gateway backend
// for deployments with no external Redis, grounded on the ManuGH-xg2g
// retrieval pack's internal/v3/store/badger_store.go (key-prefix encoding,
// db.Update/db.View transaction shape, JSON value encoding).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/store"
)

// Store is an embedded store.Gateway backed by a BadgerDB instance.
//
// Key layout:
//
//	user:<id>            -> JSON userRecord (scalar fields only)
//	user:<id>:tracked:<crn>  -> sentinel (membership row)
//	crn:<crn>            -> JSON crnRecordFields (scalar fields only)
//	crn:<crn>:tracking:<uid> -> sentinel (membership row)
//	user:<id>:notified:<crn> -> sentinel
//	index:active:<crn>   -> sentinel (mirrors ScanActiveCRNs)
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

var _ store.Gateway = (*Store)(nil)

// Open opens (creating if absent) a BadgerDB at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("opened badger store")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func userKey(id string) []byte             { return []byte("user:" + id) }
func userTrackedKey(id, crn string) []byte { return []byte("user:" + id + ":tracked:" + crn) }
func userTrackedPrefix(id string) []byte   { return []byte("user:" + id + ":tracked:") }
func userNotifiedKey(id, crn string) []byte { return []byte("user:" + id + ":notified:" + crn) }
func userNotifiedPrefix(id string) []byte   { return []byte("user:" + id + ":notified:") }
func crnKey(crn string) []byte              { return []byte("crn:" + crn) }
func crnTrackingKey(crn, uid string) []byte { return []byte("crn:" + crn + ":tracking:" + uid) }
func crnTrackingPrefix(crn string) []byte   { return []byte("crn:" + crn + ":tracking:") }
func activeIndexKey(crn string) []byte      { return []byte("index:active:" + crn) }
func activeIndexPrefix() []byte             { return []byte("index:active:") }

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

func scanKeySuffixes(txn *badger.Txn, prefix []byte) ([]string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		out = append(out, string(key[len(prefix):]))
	}
	return out, nil
}

func asTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrTransient, err)
}

func (s *Store) GetUser(_ context.Context, userID string) (*model.User, error) {
	u := &model.User{ID: userID}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec userRecord
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return err
		}
		u.PhoneNumber = rec.PhoneNumber
		u.PushSubscription = rec.PushSubscription

		tracked, err := scanKeySuffixes(txn, userTrackedPrefix(userID))
		if err != nil {
			return err
		}
		u.TrackedCRNs = toSet(tracked)

		notified, err := scanKeySuffixes(txn, userNotifiedPrefix(userID))
		if err != nil {
			return err
		}
		u.NotifiedCRNs = toSet(notified)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, asTransient(err)
	}
	return u, nil
}

// PutUser writes scalar fields and reconciles the notified-set membership
// rows, leaving tracked-CRN membership (owned by AddUserToCRN/
// RemoveUserFromCRN) untouched.
func (s *Store) PutUser(_ context.Context, u *model.User) error {
	rec := userRecord{PhoneNumber: u.PhoneNumber, PushSubscription: u.PushSubscription}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badgerstore: encode user %s: %w", u.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(userKey(u.ID), payload); err != nil {
			return err
		}

		existing, err := scanKeySuffixes(txn, userNotifiedPrefix(u.ID))
		if err != nil {
			return err
		}
		for _, crn := range existing {
			if _, keep := u.NotifiedCRNs[crn]; !keep {
				if err := txn.Delete(userNotifiedKey(u.ID, crn)); err != nil {
					return err
				}
			}
		}
		for crn := range u.NotifiedCRNs {
			if err := txn.Set(userNotifiedKey(u.ID, crn), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
	return asTransient(err)
}

func (s *Store) ScanActiveCRNs(ctx context.Context) ([]*model.CrnRecord, error) {
	var crns []string
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanKeySuffixes(txn, activeIndexPrefix())
		crns = ids
		return err
	})
	if err != nil {
		return nil, asTransient(err)
	}

	out := make([]*model.CrnRecord, 0, len(crns))
	for _, crn := range crns {
		r, err := s.GetCRN(ctx, crn)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) GetCRN(_ context.Context, crn string) (*model.CrnRecord, error) {
	r := &model.CrnRecord{CRN: crn}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(crnKey(crn))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var fields crnRecordFields
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &fields) }); err != nil {
			return err
		}
		r.CourseName = fields.CourseName
		r.CourseID = fields.CourseID
		r.CourseSection = fields.CourseSection
		r.IsOpen = fields.IsOpen
		r.SeatsRemaining = fields.SeatsRemaining
		r.TotalSeats = fields.TotalSeats
		r.LastUpdated = fields.LastUpdated
		if fields.LastStatusChange != nil {
			t := *fields.LastStatusChange
			r.LastStatusChange = &t
		}
		r.ConsecutiveClosedCheck = fields.ConsecutiveClosedCheck

		tracking, err := scanKeySuffixes(txn, crnTrackingPrefix(crn))
		if err != nil {
			return err
		}
		r.TrackingUsers = toSet(tracking)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, asTransient(err)
	}
	return r, nil
}

// PutCRN writes only the scalar/availability fields. TrackingUsers and the
// active-CRN index are owned by AddUserToCRN/RemoveUserFromCRN, so a
// scheduler observation write can never clobber a concurrent membership
// change.
func (s *Store) PutCRN(_ context.Context, r *model.CrnRecord) error {
	fields := crnRecordFields{
		CourseName:             r.CourseName,
		CourseID:               r.CourseID,
		CourseSection:          r.CourseSection,
		IsOpen:                 r.IsOpen,
		SeatsRemaining:         r.SeatsRemaining,
		TotalSeats:             r.TotalSeats,
		LastUpdated:            r.LastUpdated,
		ConsecutiveClosedCheck: r.ConsecutiveClosedCheck,
	}
	if r.LastStatusChange != nil {
		t := *r.LastStatusChange
		fields.LastStatusChange = &t
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("badgerstore: encode crn %s: %w", r.CRN, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(crnKey(r.CRN), payload)
	})
	return asTransient(err)
}

func (s *Store) DeleteCRN(_ context.Context, crn string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(crnKey(crn)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(activeIndexKey(crn)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return dropPrefix(txn, crnTrackingPrefix(crn))
	})
	return asTransient(err)
}

func (s *Store) AddUserToCRN(_ context.Context, crn, userID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(crnTrackingKey(crn, userID), []byte{1}); err != nil {
			return err
		}
		if err := txn.Set(activeIndexKey(crn), []byte{1}); err != nil {
			return err
		}
		if err := txn.Set(userTrackedKey(userID, crn), []byte{1}); err != nil {
			return err
		}
		if _, err := txn.Get(userKey(userID)); errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(userKey(userID), []byte("{}")); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		// Seed the CRN scalar record on first add so GetCRN/ScanActiveCRNs
		// can see it before any PutCRN (spec.md §3: created on first add
		// by any user).
		if _, err := txn.Get(crnKey(crn)); errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(crnKey(crn), []byte("{}"))
		} else if err != nil {
			return err
		}
		return nil
	})
	return asTransient(err)
}

func (s *Store) RemoveUserFromCRN(_ context.Context, crn, userID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(userTrackedKey(userID, crn)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(crnTrackingKey(crn, userID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		left, err := scanKeySuffixes(txn, crnTrackingPrefix(crn))
		if err != nil {
			return err
		}
		if len(left) == 0 {
			if err := txn.Delete(crnKey(crn)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete(activeIndexKey(crn)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	return asTransient(err)
}

func dropPrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
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
