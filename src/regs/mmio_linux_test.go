//go:build linux

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

package regs

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/sys/unix"
)

func Test_mmio(t *testing.T) {
	page := unix.Getpagesize()
	path := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(path, make([]byte, 2*page), 0o600); err != nil {
		t.Fatal(err)
	}
	// an unaligned base exercises the page offset
	m, err := OpenMMIO(path, 0x20, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Write32(0x40, 0x8000_1800); err != nil {
		t.Fatal(err)
	}
	if v, err := m.Read32(0x40); err != nil || v != 0x8000_1800 {
		t.Errorf("Read32 = %#x, %v", v, err)
	}
	if _, err := m.Read32(0x100); err == nil {
		t.Errorf("read past the window should fail")
	}
	if _, err := m.Read32(0x41); !errors.Is(err, ErrUnaligned) {
		t.Errorf("expected ErrUnaligned, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Read32(0); err == nil {
		t.Errorf("read after close should fail")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if v := binary.NativeEndian.Uint32(raw[0x60:]); v != 0x8000_1800 {
		t.Errorf("file holds %#x at 0x60", v)
	}
}

func Test_mmioBadWindow(t *testing.T) {
	if _, err := OpenMMIO("/nonexistent", 0, 0x10); err == nil {
		t.Errorf("expected an open error")
	}
	if _, err := OpenMMIO("/nonexistent", 0, 6); err == nil {
		t.Errorf("expected a size error")
	}
	if _, err := OpenMMIO("/nonexistent", 0x22, 0x10); !errors.Is(err, ErrUnaligned) {
		t.Errorf("expected ErrUnaligned for a half-word base, got %v", err)
	}
}

func Test_mmioCloseWhileBusy(t *testing.T) {
	page := unix.Getpagesize()
	path := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(path, make([]byte, page), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := OpenMMIO(path, 0, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(off uint32) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				// either succeeds or reports the bank closed
				if err := m.Write32(off, uint32(j)); err != nil {
					return
				}
				if _, err := m.Read32(off); err != nil {
					return
				}
			}
		}(uint32(4 * i))
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
	wg.Wait()
	if _, err := m.Read32(0); err == nil {
		t.Errorf("read after close should fail")
	}
}
