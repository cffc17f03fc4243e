// Package pricing normalizes price quotes from the program's own feed record
// or from operator-supplied manual prices into 6-decimal fixed point.
package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/spoutfi/rwa/backend/internal/spout"
)

const bpsDenom = uint64(10_000)

var (
	ErrZeroPrice       = errors.New("price is zero")
	ErrPriceOverflow   = errors.New("normalized price overflows uint64")
	ErrStalePrice      = errors.New("price feed is stale")
	ErrWideConfidence  = errors.New("price confidence interval too wide")
	ErrInvalidExponent = errors.New("unsupported price exponent")
)

// Quote is a resolved price, fixed-point with 6 implied decimals (USDC
// convention), comparable across calls.
type Quote struct {
	Price      uint64
	Confidence uint64
	Timestamp  int64
}

// Options are the optional feed gates. Zero values disable a gate, matching
// the deployed program which declares but does not enforce them.
type Options struct {
	// MaxAge rejects feed quotes older than this.
	MaxAge time.Duration
	// MaxConfidenceBps rejects quotes whose confidence interval exceeds this
	// fraction of the price, in basis points.
	MaxConfidenceBps uint64
}

type Resolver struct {
	opts Options
	now  func() int64
}

func NewResolver(opts Options) *Resolver {
	return &Resolver{
		opts: opts,
		now:  func() int64 { return time.Now().Unix() },
	}
}

// NewResolverAt pins the resolver's clock. Tests use this; services use
// NewResolver.
func NewResolverAt(opts Options, now func() int64) *Resolver {
	return &Resolver{opts: opts, now: now}
}

// ResolveFeed normalizes an on-chain feed record into a 6-decimal quote and
// applies the configured gates.
func (r *Resolver) ResolveFeed(feed *spout.PriceFeed) (Quote, error) {
	price, err := Normalize(feed.Price, feed.Expo)
	if err != nil {
		return Quote{}, err
	}
	confidence, err := Normalize(feed.Confidence, feed.Expo)
	if err != nil && !errors.Is(err, ErrZeroPrice) {
		return Quote{}, fmt.Errorf("normalize confidence: %w", err)
	}

	if r.opts.MaxAge > 0 {
		age := r.now() - feed.Timestamp
		if age < 0 || age > int64(r.opts.MaxAge/time.Second) {
			return Quote{}, fmt.Errorf("%w: published %d", ErrStalePrice, feed.Timestamp)
		}
	}
	if r.opts.MaxConfidenceBps > 0 {
		confBps := new(big.Int).SetUint64(confidence)
		confBps.Mul(confBps, new(big.Int).SetUint64(bpsDenom))
		confBps.Div(confBps, new(big.Int).SetUint64(price))
		if !confBps.IsUint64() || confBps.Uint64() > r.opts.MaxConfidenceBps {
			return Quote{}, fmt.Errorf("%w: conf %d at price %d", ErrWideConfidence, confidence, price)
		}
	}

	return Quote{Price: price, Confidence: confidence, Timestamp: feed.Timestamp}, nil
}

// ResolveManual consumes an operator-supplied price verbatim as 6-decimal
// fixed point. A zero price is rejected here, before any caller divides by it.
func (r *Resolver) ResolveManual(price uint64) (Quote, error) {
	if price == 0 {
		return Quote{}, ErrZeroPrice
	}
	return Quote{Price: price, Timestamp: r.now()}, nil
}

// Normalize converts a mantissa and power-of-ten exponent into the 6-decimal
// fixed-point convention: a negative exponent divides the mantissa by
// 10^|expo|, a non-negative one multiplies. The result must fit in uint64 and
// be non-zero.
func Normalize(mantissa uint64, expo int32) (uint64, error) {
	if mantissa == 0 {
		return 0, ErrZeroPrice
	}
	// Guardrail against unbounded big.Int growth on hostile exponents.
	if expo > 38 || expo < -38 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidExponent, expo)
	}

	value := new(big.Int).SetUint64(mantissa)
	tenPow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt32(expo))), nil)
	if expo < 0 {
		value.Div(value, tenPow)
	} else {
		value.Mul(value, tenPow)
	}

	if !value.IsUint64() {
		return 0, ErrPriceOverflow
	}
	out := value.Uint64()
	if out == 0 {
		return 0, ErrZeroPrice
	}
	return out, nil
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
