package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/zzampax/Simple-HTTP/internal/models"
)

// Login signs email in, registering it on first use. A token issued within
// the TTL is handed back again; otherwise a fresh one is minted.
func (s *Store) Login(email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	if !s.Ready() {
		return "", ErrNotOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	var user models.User
	err := s.getJSON(userPrefix+email, &user)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		hash, herr := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
		if herr != nil {
			b.Close()
			return "", fmt.Errorf("hash password: %w", herr)
		}
		user = models.User{Email: email, PasswordHash: hash, Created: s.now().UTC()}
		if err := setJSON(b, userPrefix+email, user); err != nil {
			b.Close()
			return "", err
		}
		s.log.Info("user_registered", zap.String("email", email))
	case err != nil:
		b.Close()
		return "", err
	default:
		if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
			b.Close()
			return "", ErrInvalidCredentials
		}
	}

	if token, ok := s.reusableToken(email); ok {
		if err := s.commit(b); err != nil {
			return "", err
		}
		return token, nil
	}

	token, err := newToken()
	if err != nil {
		b.Close()
		return "", err
	}
	sess := models.Session{Token: token, Email: email, Created: s.now().UTC()}
	if err := setJSON(b, tokenPrefix+token, sess); err != nil {
		b.Close()
		return "", err
	}
	if err := b.Set([]byte(sessionPrefix+email), []byte(token), nil); err != nil {
		b.Close()
		return "", err
	}
	if err := s.commit(b); err != nil {
		return "", err
	}
	s.log.Info("token_issued", zap.String("email", email))
	return token, nil
}

func (s *Store) reusableToken(email string) (string, bool) {
	token, err := s.getString(sessionPrefix + email)
	if err != nil {
		return "", false
	}
	if _, err := s.session(token); err != nil {
		return "", false
	}
	return token, true
}

// RevokeToken removes a session; unknown tokens are not an error.
func (s *Store) RevokeToken(token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess models.Session
	err := s.getJSON(tokenPrefix+token, &sess)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	if err := b.Delete([]byte(tokenPrefix+token), nil); err != nil {
		b.Close()
		return err
	}
	if current, err := s.getString(sessionPrefix + sess.Email); err == nil && current == token {
		if err := b.Delete([]byte(sessionPrefix+sess.Email), nil); err != nil {
			b.Close()
			return err
		}
	}
	if err := s.commit(b); err != nil {
		return err
	}
	s.log.Info("token_revoked", zap.String("email", sess.Email))
	return nil
}

// LookupIdentity resolves an opaque token to the user it belongs to.
func (s *Store) LookupIdentity(token string) (models.Identity, error) {
	sess, err := s.session(token)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{Email: sess.Email, Token: sess.Token}, nil
}

func (s *Store) Authenticated(token string) bool {
	_, err := s.session(token)
	return err == nil
}

func (s *Store) session(token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, ErrUnknownToken
	}
	var sess models.Session
	err := s.getJSON(tokenPrefix+token, &sess)
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Session{}, ErrUnknownToken
	}
	if err != nil {
		return models.Session{}, err
	}
	if s.expired(sess, s.now()) {
		return models.Session{}, ErrUnknownToken
	}
	return sess, nil
}

func (s *Store) expired(sess models.Session, now time.Time) bool {
	return s.opts.TokenTTL > 0 && now.Sub(sess.Created) > s.opts.TokenTTL
}

// PurgeExpiredTokens deletes every session older than the TTL and returns
// how many were removed.
func (s *Store) PurgeExpiredTokens(now time.Time) (int, error) {
	if s.opts.TokenTTL <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.Session
	err := s.scan(tokenPrefix, false, func(_, value []byte) error {
		var sess models.Session
		if err := json.Unmarshal(value, &sess); err != nil {
			return err
		}
		if s.expired(sess, now) {
			stale = append(stale, sess)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	b := s.db.NewBatch()
	for _, sess := range stale {
		if err := b.Delete([]byte(tokenPrefix+sess.Token), nil); err != nil {
			b.Close()
			return 0, err
		}
		if current, err := s.getString(sessionPrefix + sess.Email); err == nil && current == sess.Token {
			if err := b.Delete([]byte(sessionPrefix+sess.Email), nil); err != nil {
				b.Close()
				return 0, err
			}
		}
	}
	if err := s.commit(b); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
