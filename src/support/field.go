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
)

// MaxFieldWidth bounds the width of a factor field. The search enumerates
// every K, so K fields wider than this would make it crawl.
const MaxFieldWidth = 16

var ErrInvalidField = errors.New("invalid factor field")

/*
Field describes one factor (N, K or M) stored as a flat bit range of a 32 bit
control register.

The hardware stores value-1 so that a field of width w holds factors 1..2^w and
a factor can never be zero. Everything outside this file deals in effective
values; the minus one only exists in Encode and Value.
*/
type Field struct {
	Shift uint32
	Width uint32
}

// Max is the largest effective factor the field can hold.
func (f Field) Max() uint64 {
	return 1 << f.Width
}

// Mask covers the bits owned by the field, in place.
func (f Field) Mask() uint32 {
	return uint32((uint64(1)<<f.Width)-1) << f.Shift
}

// Decode extracts the raw stored value.
func (f Field) Decode(word uint32) uint64 {
	return uint64((word & f.Mask()) >> f.Shift)
}

// Value extracts the effective factor, raw + 1.
func (f Field) Value(word uint32) uint64 {
	return f.Decode(word) + 1
}

// Encode stores effective value v in the field and leaves every other bit of
// word alone. v must be in [1, Max()].
func (f Field) Encode(word uint32, v uint64) uint32 {
	if v < 1 || v > f.Max() {
		panic(fmt.Sprintf("support: factor %d out of range [1, %d]", v, f.Max()))
	}
	return word&^f.Mask() | uint32(v-1)<<f.Shift
}

func (f Field) Validate() error {
	if f.Width < 1 || f.Width > MaxFieldWidth {
		return fmt.Errorf("%w: width %d not in [1, %d]", ErrInvalidField, f.Width, MaxFieldWidth)
	}
	if f.Shift+f.Width > 32 {
		return fmt.Errorf("%w: bits %d..%d beyond a 32 bit register", ErrInvalidField, f.Shift, f.Shift+f.Width-1)
	}
	return nil
}

func (f Field) String() string {
	return fmt.Sprintf("[%d:%d]", f.Shift+f.Width-1, f.Shift)
}

// CheckDisjoint validates each field and makes sure no two of them, or any of
// the extra single-bit masks, share a bit.
func CheckDisjoint(fields []Field, extra ...uint32) error {
	var used uint32
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if used&f.Mask() != 0 {
			return fmt.Errorf("%w: %v overlaps another field", ErrInvalidField, f)
		}
		used |= f.Mask()
	}
	for _, m := range extra {
		if used&m != 0 {
			return fmt.Errorf("%w: bit mask %#08x overlaps a factor field", ErrInvalidField, m)
		}
		used |= m
	}
	return nil
}
