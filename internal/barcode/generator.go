// Package barcode issues unique scannable identifiers for stock units.
package barcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

const (
	codeLength      = 12
	prefixLength    = 6
	randomDigits    = 4
	defaultAttempts = 5
	defaultBackoff  = 5 * time.Millisecond
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// RetryPolicy bounds the collision retry loop.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Generator produces checksum-validated identifiers. It never returns an
// error: when retries are exhausted it falls back to a timestamp-and-sequence
// code that is distinct within the process. The unique constraint on the
// stock_units table is the final backstop should two processes ever collide.
type Generator struct {
	policy RetryPolicy
	seq    atomic.Uint64
	now    func() time.Time
}

// New builds a Generator with the default retry policy.
func New() *Generator {
	return NewWithPolicy(RetryPolicy{MaxAttempts: defaultAttempts, Backoff: defaultBackoff})
}

// NewWithPolicy builds a Generator with an explicit retry policy.
func NewWithPolicy(policy RetryPolicy) *Generator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultAttempts
	}
	return &Generator{policy: policy, now: time.Now}
}

// Generate returns a 12 or 13 character identifier derived from seed. taken
// reports whether a candidate is already in use; on collision the generator
// retries with fresh randomness up to the policy bound, then emits the
// emergency fallback code.
func (g *Generator) Generate(seed string, taken func(string) bool) string {
	base := g.base(seed)
	for attempt := 0; attempt < g.policy.MaxAttempts; attempt++ {
		if attempt > 0 && g.policy.Backoff > 0 {
			time.Sleep(g.policy.Backoff)
		}
		code := g.candidate(base)
		if taken == nil || !taken(code) {
			return code
		}
	}
	return g.fallback()
}

// GenerateBatch returns n identifiers that are unique against taken and
// against each other. Codes issued earlier in the batch count as taken for
// the rest of it, even though none are persisted yet.
func (g *Generator) GenerateBatch(seed string, n int, taken func(string) bool) []string {
	issued := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code := g.Generate(seed, func(c string) bool {
			if _, ok := issued[c]; ok {
				return true
			}
			return taken != nil && taken(c)
		})
		issued[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

func (g *Generator) base(seed string) string {
	cleaned := strings.ToUpper(nonAlnum.ReplaceAllString(seed, ""))
	if cleaned == "" {
		return fmt.Sprintf("ST%08d", g.seq.Add(1))
	}
	if len(cleaned) > prefixLength {
		cleaned = cleaned[:prefixLength]
	}
	return cleaned
}

func (g *Generator) candidate(base string) string {
	ts := g.now().UnixMilli() % 1_000_000
	code := fmt.Sprintf("%s%06d%s", base, ts, randomSuffix())
	if len(code) < codeLength {
		code += strings.Repeat("0", codeLength-len(code))
	} else if len(code) > codeLength {
		code = code[:codeLength]
	}
	if cd, ok := checkDigit(code); ok {
		code += string(cd)
	}
	return code
}

// fallback builds the emergency code from a high-resolution timestamp plus a
// process sequence discriminator. It is exempt from the checksum format.
func (g *Generator) fallback() string {
	return fmt.Sprintf("IT%d%04d", g.now().UnixNano(), g.seq.Add(1)%10_000)
}

func randomSuffix() string {
	max := big.NewInt(10_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken;
		// fall back to the clock rather than panic in the hot path.
		return fmt.Sprintf("%04d", time.Now().UnixNano()%10_000)
	}
	return fmt.Sprintf("%04d", n.Int64())
}

// checkDigit computes the weighted modulo-10 check digit for a 12 character
// all-numeric code. Codes containing letters or of any other length carry no
// check digit.
func checkDigit(code string) (byte, bool) {
	if len(code) != codeLength {
		return 0, false
	}
	total := 0
	for i, c := range code {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int(c - '0')
		if i%2 == 0 {
			total += d * 3
		} else {
			total += d
		}
	}
	return byte('0' + (10-total%10)%10), true
}

// ChecksumValid verifies the trailing check digit of a 13 digit code.
func ChecksumValid(code string) bool {
	if len(code) != codeLength+1 {
		return false
	}
	cd, ok := checkDigit(code[:codeLength])
	if !ok {
		return false
	}
	return code[codeLength] == cd
}

// Validate performs a basic format check on a scanned identifier.
func Validate(code string) bool {
	if len(code) < 8 || len(code) > 20 {
		return false
	}
	return !nonAlnum.MatchString(code)
}
