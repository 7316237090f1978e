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

package event

import (
	log "github.com/sirupsen/logrus"
)

type Kind int

const (
	KindNewMessages Kind = iota
	KindExpunge
	KindFlagsChanged
	KindConnectionLost
)

func (k Kind) String() string {
	switch k {
	case KindNewMessages:
		return "new_messages"
	case KindExpunge:
		return "expunge"
	case KindFlagsChanged:
		return "flags_changed"
	case KindConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is a fire-and-forget notification to the UI layer. Count is set
// for KindNewMessages, UID for KindFlagsChanged.
type Event struct {
	Kind    Kind
	Account string
	Folder  string
	UID     uint32
	Count   int
}

// Sink receives events. Delivery is best-effort; a sink must never block
// the caller and a lost event must not affect sync correctness.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChannelSink forwards events to a channel, dropping them when the
// consumer lags. The channel should be buffered.
type ChannelSink struct {
	C chan Event
}

func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, size)}
}

func (s *ChannelSink) Emit(ev Event) {
	select {
	case s.C <- ev:
	default:
		log.WithFields(log.Fields{
			"kind":    ev.Kind,
			"account": ev.Account,
			"folder":  ev.Folder,
		}).Warn("event_dropped")
	}
}
