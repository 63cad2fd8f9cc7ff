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
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"nkm/src/logger"
)

// MMIO maps a window of physical memory, normally through /dev/mem, and
// accesses it one aligned word at a time.
type MMIO struct {
	// mu keeps Close from unmapping under an access in flight
	mu    sync.RWMutex
	f     *os.File
	mem   []byte
	delta uint32
	size  uint32
	name  string
}

// OpenMMIO maps size bytes starting at physical address base of path. base
// need not be page aligned but must be word aligned.
func OpenMMIO(path string, base uint64, size uint32) (*MMIO, error) {
	if base%4 != 0 {
		return nil, fmt.Errorf("%w: base %#x", ErrUnaligned, base)
	}
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("mmio: window size %#x must be a positive multiple of 4", size)
	}
	page := uint64(unix.Getpagesize())
	start := base &^ (page - 1)
	delta := base - start
	length := (delta + uint64(size) + page - 1) &^ (page - 1)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), int64(start), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmio: map %s at %#x: %w", path, start, err)
	}
	logger.For("regs").WithField("device", path).Infof("mapped %#x bytes at %#x", size, base)
	return &MMIO{f: f, mem: mem, delta: uint32(delta), size: size, name: path}, nil
}

// word must be called with mu held.
func (m *MMIO) word(off uint32) (*uint32, error) {
	if off%4 != 0 {
		return nil, fmt.Errorf("%w: %#x", ErrUnaligned, off)
	}
	if m.mem == nil {
		return nil, fmt.Errorf("mmio: %s is closed", m.name)
	}
	if off >= m.size {
		return nil, fmt.Errorf("mmio: offset %#x outside a %#x byte window", off, m.size)
	}
	return (*uint32)(unsafe.Pointer(&m.mem[m.delta+off])), nil
}

func (m *MMIO) Read32(off uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, err := m.word(off)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

func (m *MMIO) Write32(off, v uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, err := m.word(off)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, v)
	return nil
}

// Close unmaps the window. Accesses after Close fail.
func (m *MMIO) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	logger.For("regs").WithField("device", m.name).Info("unmapped")
	return err
}
