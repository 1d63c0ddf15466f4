package board

import (
	"context"

	"github.com/anitier/anitier/pkg/comments"
)

func (b *Board) AddComment(ctx context.Context, title, cover, text, style string) (comments.Comment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.comments.Add(ctx, title, cover, text, style)
}

func (b *Board) EditComment(ctx context.Context, id, text, style string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.comments.Update(ctx, id, text, style)
}

func (b *Board) DeleteComment(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.comments.Delete(ctx, id)
}

// CommentsFor returns the comments whose title matches an entry title.
func (b *Board) CommentsFor(title string) []comments.Comment {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []comments.Comment
	for _, c := range b.comments.List() {
		if c.Title == title {
			out = append(out, c)
		}
	}
	return out
}
