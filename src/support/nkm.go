/*
 * Copyright 2025 Ted Dunning
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package support

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var ErrUnachievable = errors.New("no factors reach the requested rate")

// Factors are effective multiplier and divider values, each at least 1. The
// zero value means "no selection".
type Factors struct {
	N, K, M uint64
}

func (f Factors) IsZero() bool {
	return f == Factors{}
}

func (f Factors) String() string {
	return fmt.Sprintf("n=%d k=%d m=%d", f.N, f.K, f.M)
}

// Limits are the largest effective factors the search may use.
type Limits struct {
	MaxN, MaxK, MaxM uint64
}

// LimitsOf derives the limits from the register layout.
func LimitsOf(n, k, m Field) Limits {
	return Limits{MaxN: n.Max(), MaxK: k.Max(), MaxM: m.Max()}
}

// Rate returns parent * n * k / m, truncated. Intermediates are 128 bits wide
// and a result that doesn't fit in 64 bits saturates.
func Rate(parent uint64, f Factors) uint64 {
	if f.M == 0 {
		return 0
	}
	overflow, nk := bits.Mul64(f.N, f.K)
	if overflow != 0 {
		return math.MaxUint64
	}
	hi, lo := bits.Mul64(parent, nk)
	if hi >= f.M {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, f.M)
	return q
}

/*
FindBest picks the factors whose output parent * n * k / m is as close to rate
as possible without going over.

K is enumerated exhaustively from 1 to MaxK. For each K the remaining problem
is choosing n/m, and because the output is truncated we want the largest n/m
with

	parent * k * n / m < rate + 1

which FractionBelow answers directly with numerator limit MaxN and denominator
limit MaxM. That makes the candidate for each K the best one possible for that
K, so the overall choice is the best over the whole factor space and not just
a good rational approximation.

Ties go to the first K found, so the smallest K wins. When even the slowest
setting (n = 1, m = MaxM) is faster than rate, there is nothing to return and
the result is zero Factors together with ErrUnachievable.

Parent and rate must be positive and every limit at least 1.
*/
func FindBest(parent, rate uint64, lim Limits) (Factors, error) {
	if parent == 0 || rate == 0 || lim.MaxN == 0 || lim.MaxK == 0 || lim.MaxM == 0 {
		return Factors{}, fmt.Errorf("%w: parent %d rate %d limits %+v", ErrUnachievable, parent, rate, lim)
	}
	var best Factors
	bestRate := uint64(0)
	for k := uint64(1); k <= lim.MaxK; k++ {
		hi, den := bits.Mul64(parent, k)
		if hi != 0 {
			break
		}
		var n, m uint64
		if rate == math.MaxUint64 {
			n, m = FloorFraction(rate, den, lim.MaxN, lim.MaxM)
		} else {
			n, m = FractionBelow(rate+1, den, lim.MaxN, lim.MaxM)
		}
		if n == 0 {
			continue
		}
		f := Factors{N: n, K: k, M: m}
		candidate := Rate(parent, f)
		if candidate > rate {
			continue
		}
		if rate-candidate < rate-bestRate {
			bestRate = candidate
			best = f
		}
	}
	if best.IsZero() {
		return Factors{}, fmt.Errorf("%w: %d Hz from a %d Hz parent", ErrUnachievable, rate, parent)
	}
	return best, nil
}
