// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport provides the byte streams Modbus contexts run on:
// TCP sockets and serial lines, both with read deadlines.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Conn is a duplex byte stream with read deadlines.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Link opens Conns to one peer. A Link can be reopened after Close of
// the Conn it returned.
type Link interface {
	Open(ctx context.Context) (Conn, error)
	String() string
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Flush discards bytes that arrive within window and returns how many
// were dropped.
func Flush(c Conn, window time.Duration) (int, error) {
	buf := make([]byte, 256)
	total := 0
	for {
		if err := c.SetReadDeadline(time.Now().Add(window)); err != nil {
			return total, err
		}
		n, err := c.Read(buf)
		total += n
		if err != nil {
			if IsTimeout(err) {
				return total, nil
			}
			return total, err
		}
	}
}
