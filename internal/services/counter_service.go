package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/checkout-engine/internal/repositories"
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService constructs a CounterService backed by the counters table.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	return &counterService{repo: deps.Repository, clock: utcClock(deps.Clock)}, nil
}

// NextOrderNumber returns HF-<year>-<seq>, with the sequence restarting each calendar year.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().Year()
	seq, err := s.repo.Next(ctx, fmt.Sprintf("orders:%04d", year), 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrInvalidInput, counterErr.Message)
		}
		return "", err
	}
	return fmt.Sprintf("HF-%04d-%06d", year, seq), nil
}
