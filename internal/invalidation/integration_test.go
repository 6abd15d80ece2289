package invalidation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/postgis-collections/internal/cache/featurecache"
	"github.com/mohammed-shakir/postgis-collections/internal/cache/redisstore"
	"github.com/mohammed-shakir/postgis-collections/internal/invalidation"
	"github.com/mohammed-shakir/postgis-collections/internal/invalidation/kafkaconsumer"
)

func TestIntegration_Miniredis_EvictAndMetrics(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	fc := featurecache.NewRedis(rc, time.Minute)
	for _, id := range []string{"1", "2", "3"} {
		if err := fc.Put(ctx, "roads", id, []byte(`{"type":"Feature"}`)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	cons := kafkaconsumer.New(kafkaconsumer.DefaultConfig("", "", ""), nil, fc, nil)

	ev := invalidation.Event{
		Version: 1, Op: "update", Collection: "roads", TS: time.Now().UTC(), FeatureIDs: []any{"1", 2.0},
	}
	body, _ := json.Marshal(ev)
	msg := &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: body}
	if err := cons.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("processOne: %v", err)
	}

	for id, want := range map[string]bool{"1": false, "2": false, "3": true} {
		_, ok, err := fc.Get(ctx, "roads", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if ok != want {
			t.Fatalf("feature %s cached=%v want %v", id, ok, want)
		}
	}

	trunc, _ := json.Marshal(invalidation.Event{Version: 1, Op: "truncate", Collection: "roads", TS: time.Now().UTC()})
	if err := cons.ProcessOne(ctx, &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: trunc}); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, ok, _ := fc.Get(ctx, "roads", "3"); ok {
		t.Fatal("truncate left feature 3 cached")
	}

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `invalidation_events_total{outcome="applied"}`) {
		t.Fatalf("metrics missing applied events; got:\n%s", rr.Body.String())
	}
}
