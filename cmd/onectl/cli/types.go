package cli

import (
	"fmt"
	"strconv"
	"strings"

	one "github.com/frobware/go-one"
)

// QID is a queue ID given on the command line, in decimal or with a 0x
// prefix.
type QID struct {
	Value one.QID
}

// ParseQID parses a non-zero queue ID.
func ParseQID(s string) (QID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return QID{}, fmt.Errorf("queue id cannot be empty")
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return QID{}, fmt.Errorf("invalid queue id %q: %w", s, err)
	}
	if v == 0 {
		return QID{}, fmt.Errorf("invalid queue id %q: must be non-zero", s)
	}
	return QID{Value: one.QID(v)}, nil
}

func qidValues(qids []QID) []one.QID {
	out := make([]one.QID, len(qids))
	for i, q := range qids {
		out[i] = q.Value
	}
	return out
}
