package comments

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StyleRandom asks Add to pick one of the card styles.
const StyleRandom = "random"

// StyleCount is the number of card layouts, named "1" through "4".
const StyleCount = 4

var ErrInvalidStyle = errors.New("invalid comment style")

// Comment is a short review attached to a ranked title.
type Comment struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cover     string    `json:"cover"`
	Text      string    `json:"text"`
	Style     string    `json:"style"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps comments in insertion order.
type Store struct {
	kv    storage.KV
	key   string
	items []Comment
	pick  func() string
	now   func() time.Time
	log   logrus.FieldLogger
}

type Option func(*Store)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithStylePicker overrides how StyleRandom is resolved.
func WithStylePicker(pick func() string) Option {
	return func(s *Store) { s.pick = pick }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:   kv,
		key:  storage.CommentsKey,
		pick: func() string { return strconv.Itoa(rand.IntN(StyleCount) + 1) },
		now:  time.Now,
		log:  utils.Log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored comments. Unreadable data is dropped from storage.
func (s *Store) Load(ctx context.Context) error {
	var items []Comment
	found, err := s.kv.Load(ctx, s.key, &items)
	if err != nil {
		return fmt.Errorf("cannot load comments: %w", err)
	}
	s.items = items
	if !found {
		s.items = nil
		if keys, err := s.kv.Keys(ctx); err == nil && slices.Contains(keys, s.key) {
			s.log.WithField("key", s.key).Warn("Removing unreadable comments")
			return s.kv.Delete(ctx, s.key)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context) error {
	items := s.items
	if items == nil {
		items = []Comment{}
	}
	if err := s.kv.Save(ctx, s.key, items); err != nil {
		return fmt.Errorf("cannot save comments: %w", err)
	}
	return nil
}

func (s *Store) resolveStyle(style string) (string, error) {
	style = strings.TrimSpace(style)
	if style == "" || style == StyleRandom {
		return s.pick(), nil
	}
	n, err := strconv.Atoi(style)
	if err != nil || n < 1 || n > StyleCount {
		return "", fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}
	return style, nil
}

// Add stores a new comment and returns it with its ID and resolved style.
func (s *Store) Add(ctx context.Context, title, cover, text, style string) (Comment, error) {
	if strings.TrimSpace(title) == "" {
		return Comment{}, errors.New("comment title is required")
	}
	resolved, err := s.resolveStyle(style)
	if err != nil {
		return Comment{}, err
	}
	c := Comment{
		ID:        uuid.NewString(),
		Title:     title,
		Cover:     cover,
		Text:      text,
		Style:     resolved,
		CreatedAt: s.now().UTC(),
	}
	s.items = append(s.items, c)
	return c, s.Save(ctx)
}

// Update changes the text and style of a comment. It reports false for an unknown ID.
func (s *Store) Update(ctx context.Context, id, text, style string) (bool, error) {
	i := s.index(id)
	if i < 0 {
		return false, nil
	}
	resolved, err := s.resolveStyle(style)
	if err != nil {
		return false, err
	}
	s.items[i].Text = text
	s.items[i].Style = resolved
	return true, s.Save(ctx)
}

// Delete removes a comment. It reports false for an unknown ID.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	i := s.index(id)
	if i < 0 {
		return false, nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true, s.Save(ctx)
}

func (s *Store) List() []Comment {
	return append([]Comment(nil), s.items...)
}

// Restore replaces all comments without persisting them.
func (s *Store) Restore(items []Comment) {
	s.items = append([]Comment(nil), items...)
}

func (s *Store) index(id string) int {
	for i, c := range s.items {
		if c.ID == id {
			return i
		}
	}
	return -1
}
