package pipeline

import (
	"context"
	"fmt"

	"github.com/elonfeng/dealmatch/internal/retry"
)

// PageError is a page that could not be read after retries.
type PageError struct {
	Kind  string
	Page  int
	After string
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("read %s page %d after %q: %v", e.Kind, e.Page, e.After, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

func (e *PageError) unit() string {
	return fmt.Sprintf("%s page %d", e.Kind, e.Page)
}

// scan reads pages by keyset until a page comes back short. Cancellation is
// checked between pages only.
func scan[T any](
	ctx context.Context,
	policy retry.Policy,
	size int,
	kind string,
	fetch func(ctx context.Context, after string, limit int) ([]T, error),
	key func(*T) string,
	visit func(page int, items []T) error,
) error {
	after := ""
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var items []T
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			var err error
			items, err = fetch(ctx, after, size)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &PageError{Kind: kind, Page: page, After: after, Err: err}
		}

		if err := visit(page, items); err != nil {
			return err
		}
		if len(items) < size {
			return nil
		}
		after = key(&items[len(items)-1])
	}
}
