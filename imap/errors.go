/*
 * mailsync - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package imap

import (
	"errors"
	"io"
	"net"
	"strings"
)

// ErrNotConnected is returned by operations invoked on a client whose
// underlying connection has already gone away.
var ErrNotConnected = errors.New("imap: not connected")

// IsConnectionError reports whether err is transport-class: a failure of
// the socket or session itself rather than of a specific command. Such
// errors are always retryable by reconnecting.
//
// go-imap surfaces connection loss in a few different shapes (a net.OpError
// from the dialer, a bare io.EOF from the reader, or a textual "short write"
// style error), so this is necessarily a little heuristic.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotConnected) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	for _, s := range []string{
		"use of closed network connection",
		"connection reset by peer",
		"broken pipe",
		"connection closed",
		"short write",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}
