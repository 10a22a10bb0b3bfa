package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/checkout-engine/internal/repositories"
)

const maxNoteLength = 1000

var notePolicy = bluemonday.StrictPolicy()

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func nopLogger(context.Context, string, map[string]any) {}

func defaultIDGenerator() string {
	return ulid.Make().String()
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

// mapRepositoryError translates repository failures. notFound is the sentinel for a missing row.
func mapRepositoryError(err, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("checkout: repository unavailable: %w", err)
		}
	}
	return err
}

// sanitizeNote strips markup from free text and bounds its length.
func sanitizeNote(note string) string {
	clean := strings.TrimSpace(notePolicy.Sanitize(note))
	if utf8.RuneCountInString(clean) <= maxNoteLength {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:maxNoteLength])
}
