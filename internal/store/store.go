// Package store keeps users, sessions, posts, comments and reactions in a
// Pebble database. It implements both the identity lookups and the named
// board operations the dispatcher calls; callers never see keys.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/zzampax/Simple-HTTP/internal/models"
)

var (
	ErrNotOpen            = errors.New("store not opened")
	ErrUnknownToken       = models.ErrUnknownToken
	ErrInvalidCredentials = models.ErrInvalidCredentials
	ErrPostNotFound       = models.ErrPostNotFound
)

// Key layout:
//
//	user:<email>                              -> models.User
//	token:<token>                             -> models.Session
//	session:<email>                           -> latest token
//	meta:post_seq                             -> last post id
//	post:<id %020d>                           -> models.Post (no comments/reactions)
//	comment:<post %020d>:<nanos %020d>-<seq>  -> models.Comment
//	reaction:<post %020d>:<email>             -> reaction type
const (
	userPrefix     = "user:"
	tokenPrefix    = "token:"
	sessionPrefix  = "session:"
	postPrefix     = "post:"
	commentPrefix  = "comment:"
	reactionPrefix = "reaction:"
	postSeqKey     = "meta:post_seq"
)

type Options struct {
	// TokenTTL bounds how long a session token stays valid and how long a
	// login reuses an existing token. Zero disables expiry.
	TokenTTL   time.Duration
	BcryptCost int
}

type Store struct {
	db   *pebble.DB
	path string
	opts Options
	log  *zap.Logger

	// mu serializes read-modify-write sequences (logins, post ids).
	mu  sync.Mutex
	seq atomic.Uint64
	now func() time.Time
}

// Open opens (or creates) the database at path.
func Open(path string, opts Options, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	log.Info("pebble_opened", zap.String("path", path))
	return &Store{
		db:   db,
		path: path,
		opts: opts,
		log:  log,
		now:  time.Now,
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	s.log.Info("pebble_closed", zap.String("path", s.path))
	return nil
}

func (s *Store) Ready() bool {
	return s != nil && s.db != nil
}

func (s *Store) getJSON(key string, v any) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(raw, v)
}

func (s *Store) getString(key string) (string, error) {
	if !s.Ready() {
		return "", ErrNotOpen
	}
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(raw), nil
}

func (s *Store) has(key string) (bool, error) {
	_, err := s.getString(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pebble.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func setJSON(b *pebble.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Set([]byte(key), data, nil)
}

func (s *Store) commit(b *pebble.Batch) error {
	defer b.Close()
	return b.Commit(pebble.Sync)
}

// scan visits every key under prefix, newest (largest key) first when
// reverse is set. Values passed to fn are only valid during the call.
func (s *Store) scan(prefix string, reverse bool, fn func(key, value []byte) error) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if reverse {
		for iter.Last(); iter.Valid(); iter.Prev() {
			if err := fn(iter.Key(), iter.Value()); err != nil {
				return err
			}
		}
	} else {
		for iter.First(); iter.Valid(); iter.Next() {
			if err := fn(iter.Key(), iter.Value()); err != nil {
				return err
			}
		}
	}
	return iter.Error()
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func postKey(id int64) string {
	return fmt.Sprintf("%s%020d", postPrefix, id)
}

func commentsPrefix(postID int64) string {
	return fmt.Sprintf("%s%020d:", commentPrefix, postID)
}

func reactionsPrefix(postID int64) string {
	return fmt.Sprintf("%s%020d:", reactionPrefix, postID)
}
