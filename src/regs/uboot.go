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
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"nkm/src/logger"
)

const DefaultPrompt = "=> "

var ErrNoPrompt = errors.New("u-boot: prompt not seen")

/*
UBoot drives registers through the U-Boot console of a board on a serial
line, using md.l to read a word and mw.l to write one. Offsets are added to a
physical base address.

Every command is sent as one line and the reply is everything up to the next
prompt, echo included.
*/
type UBoot struct {
	mu     sync.Mutex
	port   io.ReadWriter
	closer io.Closer
	base   uint64
	prompt []byte
	buf    []byte
}

func NewUBoot(port io.ReadWriter, base uint64, prompt string) *UBoot {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &UBoot{port: port, base: base, prompt: []byte(prompt)}
}

// OpenUBoot opens a serial device and syncs with the console by sending an
// empty line.
func OpenUBoot(device string, baud int, base uint64, prompt string) (*UBoot, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("u-boot: open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("u-boot: %w", err)
	}
	u := NewUBoot(port, base, prompt)
	u.closer = port
	if _, err := u.command(""); err != nil {
		_ = port.Close()
		return nil, err
	}
	logger.For("regs").WithField("device", device).Infof("u-boot console at %d baud", baud)
	return u, nil
}

// command sends one line and returns the reply without the trailing prompt.
func (u *UBoot) command(line string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, err := io.WriteString(u.port, line+"\n"); err != nil {
		return "", fmt.Errorf("u-boot: send %q: %w", line, err)
	}
	u.buf = u.buf[:0]
	chunk := make([]byte, 256)
	for !bytes.HasSuffix(u.buf, u.prompt) {
		n, err := u.port.Read(chunk)
		u.buf = append(u.buf, chunk[:n]...)
		if err != nil {
			return "", fmt.Errorf("u-boot: reply to %q: %w", line, err)
		}
		if n == 0 {
			// a serial read timed out
			return "", fmt.Errorf("%w after %q", ErrNoPrompt, line)
		}
	}
	return string(u.buf[:len(u.buf)-len(u.prompt)]), nil
}

func (u *UBoot) addr(off uint32) (uint64, error) {
	if off%4 != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrUnaligned, off)
	}
	return u.base + uint64(off), nil
}

func (u *UBoot) Read32(off uint32) (uint32, error) {
	a, err := u.addr(off)
	if err != nil {
		return 0, err
	}
	reply, err := u.command(fmt.Sprintf("md.l %x 1", a))
	if err != nil {
		return 0, err
	}
	return parseDump(reply, a)
}

// parseDump finds the value in a line like "01c20000: 80001800    ....".
func parseDump(reply string, addr uint64) (uint32, error) {
	tag := fmt.Sprintf("%08x:", addr)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, tag)
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			break
		}
		v, err := strconv.ParseUint(fields[0], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("u-boot: bad dump %q: %w", line, err)
		}
		return uint32(v), nil
	}
	return 0, fmt.Errorf("u-boot: no dump of %#x in %q", addr, reply)
}

func (u *UBoot) Write32(off, v uint32) error {
	a, err := u.addr(off)
	if err != nil {
		return err
	}
	reply, err := u.command(fmt.Sprintf("mw.l %x %08x", a, v))
	if err != nil {
		return err
	}
	if strings.Contains(reply, "Unknown command") || strings.Contains(reply, "Usage:") {
		return fmt.Errorf("u-boot: mw.l rejected: %q", strings.TrimSpace(reply))
	}
	return nil
}

func (u *UBoot) Close() error {
	if u.closer == nil {
		return nil
	}
	return u.closer.Close()
}
