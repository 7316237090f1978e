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

package store

import (
	"sort"
	"strings"
	"time"
)

// SyncStatus is the per-(account, folder) cursor. HighestUID is monotonic
// for a fixed UIDValidity; it only ever goes backwards together with a
// UIDValidity change, which invalidates every cached UID for the folder.
type SyncStatus struct {
	UIDValidity uint32
	HighestUID  uint32
	LastSync    time.Time
}

// MessageHeader is the locally cached summary of one message. UID is only
// meaningful together with UIDValidity.
type MessageHeader struct {
	UID         uint32
	UIDValidity uint32

	Subject string
	From    []string
	To      []string

	// Date is the message's own date when parseable, otherwise the
	// server's INTERNALDATE, otherwise the time the header was fetched.
	Date time.Time

	Flags          []string
	HasAttachments bool
	HasBody        bool
}

// Seen reports whether the message carries the \Seen flag.
func (h *MessageHeader) Seen() bool {
	return hasFlag(h.Flags, `\Seen`)
}

// Flagged reports whether the message carries the \Flagged flag.
func (h *MessageHeader) Flagged() bool {
	return hasFlag(h.Flags, `\Flagged`)
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// CanonicalFlags returns a normalised, sorted, space-joined rendition of a
// flag set, suitable for change detection and storage.
func CanonicalFlags(flags []string) string {
	if len(flags) == 0 {
		return ""
	}

	out := make([]string, len(flags))
	copy(out, flags)
	sort.Strings(out)
	return strings.Join(out, " ")
}

// SplitFlags is the inverse of CanonicalFlags.
func SplitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, " ")
}
