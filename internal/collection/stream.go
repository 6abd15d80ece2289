package collection

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

// Item is one emitted feature and the cursor that resumes after it.
type Item struct {
	Feature   *model.Feature
	NextToken string
}

// FeatureStream is the single-consumer result of a list query. Items is
// closed after the last feature, on early stop, or on failure; Err then
// reports why the stream ended.
type FeatureStream struct {
	// CRS of the emitted geometries.
	CRS string
	// RemainingFilters were not translated and must be applied by the
	// caller, which also owns limiting in that case.
	RemainingFilters []model.Filter

	items chan Item
	done  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

func newStream(crs string, remaining []model.Filter) *FeatureStream {
	return &FeatureStream{
		CRS:              crs,
		RemainingFilters: remaining,
		items:            make(chan Item),
		done:             make(chan struct{}),
	}
}

// failedStream is already terminated with err.
func failedStream(crs string, remaining []model.Filter, err error) *FeatureStream {
	s := newStream(crs, remaining)
	s.finish(err)
	return s
}

func (s *FeatureStream) Items() <-chan Item { return s.items }

// Err is meaningful once Items has been closed.
func (s *FeatureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer. Rows not yet emitted are discarded.
func (s *FeatureStream) Close() {
	s.once.Do(func() { close(s.done) })
}

// Collect drains the stream.
func (s *FeatureStream) Collect() ([]Item, error) {
	var out []Item
	for it := range s.items {
		out = append(out, it)
	}
	return out, s.Err()
}

// emit blocks until the consumer takes it, the stream is closed or ctx
// ends. A nil error with false means the consumer stopped early.
func (s *FeatureStream) emit(ctx context.Context, it Item) (bool, error) {
	select {
	case s.items <- it:
		return true, nil
	case <-s.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *FeatureStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.items)
}
