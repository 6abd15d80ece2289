package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/postgis-collections/internal/invalidation"
)

type evictCall struct {
	collection string
	ids        []string
}

type fakeEvictor struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	calls     []evictCall
}

func (f *fakeEvictor) Invalidate(_ context.Context, collection string, ids []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, evictCall{collection: collection, ids: ids})
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeEvictor) snapshot() []evictCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]evictCall(nil), f.calls...)
}

type mapResolver map[string][]string

func (m mapResolver) Resolve(name string) []string { return m[name] }

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "collection-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(collection string, ids ...any) []byte {
	ev := invalidation.Event{
		Version: 1, Op: "update", Collection: collection, TS: time.Now().UTC(), FeatureIDs: ids,
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fe *fakeEvictor, r Resolver) *Consumer {
	cfg := DefaultConfig("x", "collection-invalidation", "g")
	return New(cfg, slog.Default(), fe, r)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, nil)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "collection-invalidation", Offset: 10, Value: eventBytes("roads", "a")}
	ch <- &sarama.ConsumerMessage{Topic: "collection-invalidation", Offset: 11, Value: eventBytes("roads", 7)}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if !reflect.DeepEqual(s.marked, []int64{10, 11}) {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	calls := fe.snapshot()
	if len(calls) != 2 || calls[0].ids[0] != "a" || calls[1].ids[0] != "7" {
		t.Fatalf("evictions=%+v", calls)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fe := &fakeEvictor{}
	fe.failFirst.Store(true)
	c := newConsumerForTest(fe, nil)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "collection-invalidation", Offset: 5, Value: eventBytes("roads", "a")}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
	if n := len(fe.snapshot()); n != 2 {
		t.Fatalf("evict attempts=%d want 2", n)
	}
}

func TestRedelivery_IsSkipped(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, nil)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "t", Partition: 3, Offset: 9, Value: eventBytes("roads", "a")}
	for range 2 {
		if err := c.ProcessOne(ctx, msg); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	older := &sarama.ConsumerMessage{Topic: "t", Partition: 3, Offset: 8, Value: eventBytes("roads", "b")}
	if err := c.ProcessOne(ctx, older); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	other := &sarama.ConsumerMessage{Topic: "t", Partition: 4, Offset: 8, Value: eventBytes("roads", "c")}
	if err := c.ProcessOne(ctx, other); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if n := len(fe.snapshot()); n != 2 {
		t.Fatalf("evictions=%d want 2", n)
	}
}

func TestPoisonAndInvalid_AreSkippedWithoutEviction(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, nil)
	ctx := context.Background()

	bad := []*sarama.ConsumerMessage{
		{Topic: "t", Offset: 1, Value: []byte("{not json")},
		{Topic: "t", Offset: 2, Value: []byte(`{"version":3,"op":"update","collection":"roads","ts":"2025-01-01T00:00:00Z"}`)},
	}
	for _, m := range bad {
		if err := c.ProcessOne(ctx, m); err != nil {
			t.Fatalf("offset %d: %v", m.Offset, err)
		}
	}
	if n := len(fe.snapshot()); n != 0 {
		t.Fatalf("unexpected evictions: %d", n)
	}
}

func TestResolver_FansOutToEveryVariant(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, mapResolver{"roads": {"roads", "roads/north"}})

	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 1, Value: eventBytes("roads")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	calls := fe.snapshot()
	if len(calls) != 2 || calls[0].collection != "roads" || calls[1].collection != "roads/north" {
		t.Fatalf("calls=%+v", calls)
	}
	if len(calls[0].ids) != 0 {
		t.Fatalf("expected whole-collection eviction, got ids=%v", calls[0].ids)
	}

	unknown := &sarama.ConsumerMessage{Topic: "t", Offset: 2, Value: eventBytes("rivers", "x")}
	if err := c.ProcessOne(context.Background(), unknown); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if last := fe.snapshot()[2]; last.collection != "rivers" {
		t.Fatalf("fallback target=%q", last.collection)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, nil)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytes("roads", "a")}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytes("roads", "b")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytes("roads", "c")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytes("roads", "d")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}
