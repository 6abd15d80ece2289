// Package invalidation defines the change events that evict cached
// features.
package invalidation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event announces that rows behind a collection changed. Collection is a
// collection id or a table definition name; FeatureIDs lists primary key
// values, and an empty list means the whole collection is stale.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	TS         time.Time `json:"ts"`
	FeatureIDs []any     `json:"feature_ids,omitempty"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete", "truncate":
	default:
		return fmt.Errorf("op must be insert|update|delete|truncate")
	}
	if strings.TrimSpace(e.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.Op == "truncate" && len(e.FeatureIDs) > 0 {
		return fmt.Errorf("truncate takes no feature_ids")
	}
	for i, id := range e.FeatureIDs {
		switch id.(type) {
		case string, float64, json.Number:
		default:
			return fmt.Errorf("feature_ids[%d]: want string or number, got %T", i, id)
		}
	}
	return nil
}

// IDs renders FeatureIDs the way they appear in item URLs.
func (e Event) IDs() []string {
	out := make([]string, 0, len(e.FeatureIDs))
	for _, id := range e.FeatureIDs {
		switch v := id.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case json.Number:
			out = append(out, v.String())
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}
