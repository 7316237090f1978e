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

// Store is the persistence boundary of the sync core. Writes for a given
// (account, folder) are never issued concurrently; the sync engine is the
// only mutator and callers serialise reconciliations per folder.
type Store interface {
	// SyncStatus returns the stored cursor, or nil if the folder has
	// never been reconciled.
	SyncStatus(account, folder string) (*SyncStatus, error)

	SaveSyncStatus(account, folder string, status *SyncStatus) error

	DeleteSyncStatus(account, folder string) error

	// CachedUIDs returns the UIDs of every locally cached header for the
	// folder, in ascending order.
	CachedUIDs(account, folder string) ([]uint32, error)

	// Headers returns every cached header for the folder.
	Headers(account, folder string) ([]*MessageHeader, error)

	// SaveHeaders inserts or replaces a batch of headers atomically.
	SaveHeaders(account, folder string, headers []*MessageHeader) error

	DeleteHeaders(account, folder string, uids []uint32) error

	// UpdateFlags replaces the flag set of a single cached message.
	UpdateFlags(account, folder string, uid uint32, flags []string) error

	Close() error
}
