package spatial

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// ParseWKT parses geometry text as returned by ST_AsText. Nil or empty
// input yields a nil geometry and no error.
func ParseWKT(v any) (orb.Geometry, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return nil, fmt.Errorf("geometry text: unexpected %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	// EWKT from some drivers carries an SRID prefix
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.Index(s, ";"); i >= 0 {
			s = s[i+1:]
		}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	return g, nil
}
