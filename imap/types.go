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
	"crypto/tls"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

//go:generate mockgen -destination=mock/client.go -package=mock mailsync/imap Client,ClientFactory,Authenticatable

// Client is the narrow slice of an IMAP session that the sync and watch
// subsystems use. Implementations need not be safe for concurrent use;
// callers hand a client to one goroutine at a time.
type Client interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)

	// Support reports whether the server advertised the given capability.
	Support(cap string) (bool, error)

	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error

	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error

	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)

	Idle(stop <-chan struct{}, opts *client.IdleOptions) error

	Logout() error

	LoggedOut() <-chan struct{}
}

type ConnectionConfig struct {
	HostPort  string
	Auth      Authenticator
	TLS       bool
	TLSConfig *tls.Config
	Debug     bool
}

type ClientConfig struct {
	ConnectionConfig

	// Updates receives the server's unsolicited responses. May be nil.
	Updates chan<- client.Update
}

type ClientFactory interface {
	NewClient(cfg *ClientConfig) (Client, error)
}

type Message = imap.Message
type SeqSet = imap.SeqSet
type MailboxStatus = imap.MailboxStatus
type FetchItem = imap.FetchItem
type SearchCriteria = imap.SearchCriteria
type BodyStructure = imap.BodyStructure
