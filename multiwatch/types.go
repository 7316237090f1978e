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

package multiwatch

import (
	"time"

	"mailsync/credential"
	"mailsync/event"
	"mailsync/imap"
	"mailsync/watcher"
)

// Key identifies one push session.
type Key struct {
	Account string
	Folder  string
}

type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandStop
	CommandStartAccount
	CommandStopAccount
	CommandStopAll
)

// Command is the tagged instruction accepted by Submit. Account and
// Folder are ignored where the kind doesn't need them.
type Command struct {
	Kind    CommandKind
	Account string
	Folder  string
}

type Config struct {
	Credentials credential.Provider
	Factory     imap.ClientFactory
	Syncer      watcher.Reconciler
	Sink        event.Sink

	// PrimaryFolder is the inbox-equivalent monitored by StartAccount.
	PrimaryFolder string

	// AccountFolders optionally overrides the folder list StartAccount
	// monitors for a given account. The list is truncated to
	// SessionsPerAccount.
	AccountFolders func(account string) []string

	// SessionsPerAccount caps concurrent sessions per account. Servers
	// start refusing connections somewhere around 10-15 per account, so
	// this defaults to 1 (the primary folder only); other folders rely
	// on manual or periodic sync.
	SessionsPerAccount uint

	// Watcher tuning, passed through to each session.
	ReconnectDelay  time.Duration
	MaxIdleTime     time.Duration
	PollInterval    time.Duration
	MaxSyncInterval time.Duration
	MaxCycles       uint
}

type startRequest struct {
	r chan error

	account string
	folder  string
}

type stopRequest struct {
	r chan error

	account string
	folder  string
}

type startAccountRequest struct {
	r chan error

	account string
}

type stopAccountRequest struct {
	r chan error

	account string
}

type stopAllRequest struct {
	r chan error
}

type isActiveRequest struct {
	r chan bool

	account string
	folder  string
}

type statusRequest struct {
	r chan map[Key]watcher.State
}

type closeRequest struct {
	r chan error
}
