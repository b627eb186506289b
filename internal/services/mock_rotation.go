package services

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type MockPoolStore interface {
	// GetMockImage returns nil, nil when the pool has no image for ordinal.
	GetMockImage(ctx context.Context, ordinal int) (*MockImage, error)
}

// MockSelector hands out stock images so that a client sees every image of the pool once
// before any repeats.
type MockSelector struct {
	store MockPoolStore
	size  int
	delay time.Duration
	intn  func(n int) int
	wait  func(ctx context.Context, d time.Duration) error
}

func NewMockSelector(store MockPoolStore, size int, delay time.Duration) *MockSelector {
	return &MockSelector{
		store: store,
		size:  size,
		delay: delay,
		intn:  rand.Intn,
		wait:  sleepContext,
	}
}

// Next waits the configured thinking delay, then returns an image whose ordinal is not in seen.
// Once every ordinal of the pool has been seen the draw is over the whole pool.
// A nil image with a nil error means the pool has nothing for the drawn ordinal.
func (s *MockSelector) Next(ctx context.Context, seen []int) (*MockImage, error) {
	if s.store == nil {
		return nil, errors.New("mock selector store is nil")
	}
	if err := s.wait(ctx, s.delay); err != nil {
		return nil, err
	}
	if s.size <= 0 {
		return nil, nil
	}
	return s.store.GetMockImage(ctx, s.pick(seen))
}

func (s *MockSelector) pick(seen []int) int {
	seenSet := make(map[int]struct{}, len(seen))
	for _, o := range seen {
		if o >= 1 && o <= s.size {
			seenSet[o] = struct{}{}
		}
	}
	if len(seenSet) >= s.size {
		return s.intn(s.size) + 1
	}
	unseen := make([]int, 0, s.size-len(seenSet))
	for o := 1; o <= s.size; o++ {
		if _, ok := seenSet[o]; !ok {
			unseen = append(unseen, o)
		}
	}
	return unseen[s.intn(len(unseen))]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
