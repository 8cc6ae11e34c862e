package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDGenerator generates ULID identifiers.
// ULIDs are lexicographically sortable and encode their creation time,
// which makes them a good fit for identifiers that end up in range scans.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// ULIDOption is a functional option for ULIDGenerator.
type ULIDOption func(*ULIDGenerator)

// WithULIDReader sets a custom random reader for ULID generation.
func WithULIDReader(r io.Reader) ULIDOption {
	return func(g *ULIDGenerator) {
		g.entropy = ulid.Monotonic(r, 0)
	}
}

// NewULIDGenerator creates a new ULID generator.
// Generation is safe for concurrent use and monotonic within a
// millisecond: IDs produced in the same tick still sort in issue order.
func NewULIDGenerator(opts ...ULIDOption) *ULIDGenerator {
	g := &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Generate creates a new ULID string.
// Format: 26 characters of Crockford base32, timestamp first.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		panic("id: failed to generate ULID: " + err.Error())
	}
	return id.String()
}

// GenerateN creates n ULID strings.
func (g *ULIDGenerator) GenerateN(n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = g.Generate()
	}
	return ids
}

// ULID is a parsed ULID with access to its embedded timestamp.
type ULID struct {
	id ulid.ULID
}

// String returns the canonical 26-character representation.
func (u ULID) String() string {
	return u.id.String()
}

// Time returns the creation time encoded in the ULID.
func (u ULID) Time() time.Time {
	return ulid.Time(u.id.Time())
}

// Timestamp returns the raw millisecond timestamp component.
func (u ULID) Timestamp() uint64 {
	return u.id.Time()
}

// ParseULID parses a ULID string.
// Only the canonical 26-character form is accepted.
func ParseULID(s string) (ULID, error) {
	if len(s) != ulid.EncodedSize {
		return ULID{}, ErrInvalidULID
	}

	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ULID{}, ErrInvalidULID
	}
	return ULID{id: id}, nil
}

// IsValidULID checks if a string is a valid ULID format.
func IsValidULID(s string) bool {
	_, err := ParseULID(s)
	return err == nil
}
