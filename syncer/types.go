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

package syncer

import (
	"mailsync/credential"
	"mailsync/event"
	"mailsync/imap"
	"mailsync/store"
)

type Config struct {
	Store       store.Store
	Credentials credential.Provider
	Factory     imap.ClientFactory

	// Sink receives UI notifications. May be nil.
	Sink event.Sink

	// BatchSize is the number of messages fetched per round trip.
	BatchSize uint
}

// Syncer reconciles local cached state against server state, one
// (account, folder) per call. It holds no background goroutine and no
// connection between calls; callers must not run two reconciliations
// concurrently for the same (account, folder).
type Syncer struct {
	store     store.Store
	creds     credential.Provider
	factory   imap.ClientFactory
	sink      event.Sink
	batchSize uint
}

func NewSyncer(cfg *Config) *Syncer {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	sink := cfg.Sink
	if sink == nil {
		sink = event.NopSink{}
	}

	return &Syncer{
		store:     cfg.Store,
		creds:     cfg.Credentials,
		factory:   cfg.Factory,
		sink:      sink,
		batchSize: batchSize,
	}
}
