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

package watcher

import (
	"time"

	"mailsync/credential"
	"mailsync/event"
	"mailsync/imap"
	"mailsync/store"
)

// Reconciler is the slice of the sync engine a push session drives.
// *syncer.Syncer satisfies it.
type Reconciler interface {
	Reconcile(account, folder string) ([]*store.MessageHeader, error)
	ReconcileFlagsSingle(account, folder string, uid uint32) (bool, error)
}

type Config struct {
	Account string
	Folder  string

	Credentials credential.Provider
	Factory     imap.ClientFactory
	Syncer      Reconciler

	// Sink receives UI notifications. May be nil.
	Sink event.Sink

	// ReconnectDelay is the pause before retrying a failed connection.
	ReconnectDelay time.Duration

	// MaxIdleTime bounds a single IDLE invocation. It must stay under
	// the protocol's ~29 minute keep-alive ceiling; many servers drop
	// the connection well before that.
	MaxIdleTime time.Duration

	// PollInterval is the fallback poll cadence while idling, for
	// servers whose IDLE notifications are unreliable.
	PollInterval time.Duration

	// MaxSyncInterval bounds the time between reconciles even when the
	// server pushes nothing, catching anything a quiet IDLE missed.
	MaxSyncInterval time.Duration

	// MaxCycles forces a preventive reconnect after this many monitoring
	// cycles, catching servers that silently wedge idle connections.
	MaxCycles uint
}

type State int32

const (
	StateConnecting State = iota
	StateMonitoring
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateMonitoring:
		return "monitoring"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// notification is what a server update decodes to. Exactly one of the
// variants below; the session handler matches exhaustively.
type notification interface {
	isNotification()
}

// newMessages: the folder's message count grew.
type newMessages struct {
	count uint32
}

// expunged: a message was removed server-side.
type expunged struct {
	seq uint32
}

// flagsChanged: one message's flags changed. uid may be zero when the
// server only named the message by sequence number.
type flagsChanged struct {
	uid uint32
	seq uint32
}

func (newMessages) isNotification()  {}
func (expunged) isNotification()     {}
func (flagsChanged) isNotification() {}
