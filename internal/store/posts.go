package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/zzampax/Simple-HTTP/internal/models"
)

// CreatePost stores a new post under the next sequential id.
func (s *Store) CreatePost(np models.NewPost) (models.Post, error) {
	if !s.Ready() {
		return models.Post{}, ErrNotOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextPostID()
	if err != nil {
		return models.Post{}, err
	}
	post := models.Post{
		ID:       id,
		Title:    np.Title,
		Content:  np.Content,
		Email:    np.Email,
		Image:    np.Image,
		Datetime: models.FormatDatetime(s.now()),
	}

	b := s.db.NewBatch()
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(id))
	if err := b.Set([]byte(postSeqKey), seq[:], nil); err != nil {
		b.Close()
		return models.Post{}, err
	}
	if err := setJSON(b, postKey(id), post); err != nil {
		b.Close()
		return models.Post{}, err
	}
	if err := s.commit(b); err != nil {
		s.log.Error("save_post_failed", zap.Int64("post_id", id), zap.Error(err))
		return models.Post{}, err
	}
	s.log.Info("post_saved", zap.Int64("post_id", id), zap.String("email", np.Email), zap.String("image", np.Image))

	post.Comments = []models.Comment{}
	post.Reactions = map[string]int{}
	return post, nil
}

func (s *Store) nextPostID() (int64, error) {
	raw, err := s.getString(postSeqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt post sequence: %d bytes", len(raw))
	}
	return int64(binary.BigEndian.Uint64([]byte(raw))) + 1, nil
}

// ListPosts returns every post, newest first, with its comments (newest
// first) and reaction counts by type.
func (s *Store) ListPosts() ([]models.Post, error) {
	posts := []models.Post{}
	err := s.scan(postPrefix, true, func(_, value []byte) error {
		var p models.Post
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("invalid post json: %w", err)
		}
		posts = append(posts, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range posts {
		comments, err := s.ListComments(posts[i].ID)
		if err != nil {
			return nil, err
		}
		reactions, err := s.reactionCounts(posts[i].ID)
		if err != nil {
			return nil, err
		}
		posts[i].Comments = comments
		posts[i].Reactions = reactions
	}
	return posts, nil
}

func (s *Store) postExists(id int64) (bool, error) {
	return s.has(postKey(id))
}

// ListComments returns a post's comments, newest first.
func (s *Store) ListComments(postID int64) ([]models.Comment, error) {
	comments := []models.Comment{}
	err := s.scan(commentsPrefix(postID), true, func(_, value []byte) error {
		var c models.Comment
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("invalid comment json: %w", err)
		}
		comments = append(comments, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *Store) AddComment(postID int64, email, content string) error {
	ok, err := s.postExists(postID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPostNotFound
	}

	now := s.now()
	key := fmt.Sprintf("%s%020d-%06d", commentsPrefix(postID), now.UTC().UnixNano(), s.seq.Add(1)%1000000)
	b := s.db.NewBatch()
	if err := setJSON(b, key, models.Comment{
		Email:    email,
		Content:  content,
		Datetime: models.FormatDatetime(now),
	}); err != nil {
		b.Close()
		return err
	}
	if err := s.commit(b); err != nil {
		s.log.Error("save_comment_failed", zap.Int64("post_id", postID), zap.Error(err))
		return err
	}
	s.log.Info("comment_saved", zap.Int64("post_id", postID), zap.String("email", email))
	return nil
}

// SetReaction records email's reaction to a post, replacing any earlier one.
func (s *Store) SetReaction(postID int64, email, kind string) error {
	ok, err := s.postExists(postID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPostNotFound
	}
	key := reactionsPrefix(postID) + email
	if err := s.db.Set([]byte(key), []byte(kind), pebble.Sync); err != nil {
		s.log.Error("save_reaction_failed", zap.Int64("post_id", postID), zap.Error(err))
		return err
	}
	s.log.Info("reaction_saved", zap.Int64("post_id", postID), zap.String("email", email), zap.String("type", kind))
	return nil
}

// UserReaction returns email's reaction type on a post, or "" if none.
func (s *Store) UserReaction(postID int64, email string) (string, error) {
	kind, err := s.getString(reactionsPrefix(postID) + email)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	return kind, err
}

func (s *Store) reactionCounts(postID int64) (map[string]int, error) {
	counts := map[string]int{}
	prefix := reactionsPrefix(postID)
	err := s.scan(prefix, false, func(key, value []byte) error {
		if !strings.HasPrefix(string(key), prefix) {
			return nil
		}
		counts[string(value)]++
		return nil
	})
	return counts, err
}
