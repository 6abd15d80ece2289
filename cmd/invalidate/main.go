// Command invalidate publishes one cache invalidation event, for use by
// outbox workers or by hand.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mohammed-shakir/postgis-collections/internal/invalidation"
	"github.com/mohammed-shakir/postgis-collections/internal/invalidation/publisher"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	os.Exit(run())
}

func run() int {
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma separated brokers")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "collection-invalidation"), "topic")
	coll := flag.String("collection", "", "collection id or table definition name")
	op := flag.String("op", "update", "insert|update|delete|truncate")
	ids := flag.String("ids", "", "comma separated feature ids; empty evicts the whole collection")
	flag.Parse()

	ev := invalidation.Event{Op: *op, Collection: *coll, Source: "cli"}
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ev.FeatureIDs = append(ev.FeatureIDs, id)
		}
	}

	p, err := publisher.New(strings.Split(*brokers, ","), *topic)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = p.Close() }()

	part, off, err := p.Publish(ev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("published %s %s (%d ids) to %s partition=%d offset=%d\n",
		ev.Op, ev.Collection, len(ev.FeatureIDs), *topic, part, off)
	return 0
}
