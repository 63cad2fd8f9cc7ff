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

import "math/bits"

/*
FloorFraction finds the largest fraction c/d <= a/b such that c <= maxNumerator
and 1 <= d <= maxDenominator.

Both limits are independent. Neither one has to be reached, and when a/b is
larger than maxNumerator the answer is simply maxNumerator/1. When even 1/maxDenominator
is too big, the answer is 0/1 and the caller has to decide what that means.

The method is a walk down the Stern-Brocot tree. We keep two neighbours, a left
fraction L <= a/b and a right fraction R > a/b, with the property that every
fraction strictly between them has a numerator of at least L.num+R.num and a
denominator of at least L.den+R.den. Repeatedly stepping to the mediant would
take far too long for something like 1000/1, so each step is batched: we jump
L towards R (or R towards L) by as many mediant steps as we can before crossing
a/b. The sizes of these jumps are exactly the terms of the continued fraction
of a/b, so this is the usual continued fraction expansion, but with the
stopping rule changed to honour both limits and to only ever approach from
below. As soon as the next mediant would break one of the limits, no fraction
between L and a/b can be represented and L is the answer.

All comparisons are done as cross products in 128 bits so a and b can use the
full 64 bit range.
*/
func FloorFraction(a, b, maxNumerator, maxDenominator uint64) (c, d uint64) {
	return lowerFraction(a, b, maxNumerator, maxDenominator, false)
}

// FractionBelow is FloorFraction with a strict comparison: it returns the
// largest c/d < a/b within the same limits. For a == 0 there is no such
// fraction and 0/1 is returned.
func FractionBelow(a, b, maxNumerator, maxDenominator uint64) (c, d uint64) {
	if a == 0 {
		return 0, 1
	}
	return lowerFraction(a, b, maxNumerator, maxDenominator, true)
}

func lowerFraction(a, b, maxN, maxD uint64, strict bool) (uint64, uint64) {
	if b == 0 || maxD == 0 {
		panic("support: zero denominator")
	}
	// below reports whether p/q is on the left side of a/b
	below := func(p, q uint64) bool {
		c := cmp128(p, b, a, q)
		if strict {
			return c < 0
		}
		return c <= 0
	}
	lp, lq := uint64(0), uint64(1)
	rp, rq := uint64(1), uint64(0)
	for {
		// move L towards R, staying on the left of a/b
		limit := (maxN - lp) / rp
		if rq > 0 {
			limit = min(limit, (maxD-lq)/rq)
		}
		k := largest(limit, func(j uint64) bool {
			return below(lp+j*rp, lq+j*rq)
		})
		lp, lq = lp+k*rp, lq+k*rq
		if k == limit {
			return lp, lq
		}

		// move R towards L, staying on the right of a/b
		limit = (maxD - rq) / lq
		if lp > 0 {
			limit = min(limit, (maxN-rp)/lp)
		}
		k = largest(limit, func(j uint64) bool {
			return !below(rp+j*lp, rq+j*lq)
		})
		if k == limit {
			return lp, lq
		}
		rp, rq = rp+k*lp, rq+k*lq
	}
}

// largest returns the largest j in [0, limit] for which ok(j) holds. ok must
// hold for 0 and be monotone.
func largest(limit uint64, ok func(j uint64) bool) uint64 {
	if ok(limit) {
		return limit
	}
	lo, hi := uint64(0), limit
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if ok(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// cmp128 compares x1*y1 with x2*y2 without overflow.
func cmp128(x1, y1, x2, y2 uint64) int {
	h1, l1 := bits.Mul64(x1, y1)
	h2, l2 := bits.Mul64(x2, y2)
	switch {
	case h1 != h2:
		return cmpU64(h1, h2)
	default:
		return cmpU64(l1, l2)
	}
}

func cmpU64(x, y uint64) int {
	if x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}
