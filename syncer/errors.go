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
	"errors"
	"fmt"
)

var (
	// errMalformedMessage marks a message whose envelope or structure the
	// server returned in a shape we cannot interpret.
	errMalformedMessage = errors.New("malformed message")

	// errUIDValidityChanged is raised when the folder's identity changes
	// underneath an in-flight reconciliation (seen on reconnect). The
	// current pass aborts; the next reconcile performs the full resync.
	errUIDValidityChanged = errors.New("uidvalidity changed mid-sync")
)

// SyncError is the hard-failure result of a reconciliation. Individual
// batch and message failures are retried and contained internally; only a
// connection failure that survives isolated retry, or a persistence
// failure, surfaces as a SyncError. The stored cursor is untouched by a
// failed call.
type SyncError struct {
	Account string
	Folder  string
	Op      string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %v/%v: %v: %v", e.Account, e.Folder, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (s *Syncer) syncError(account, folder, op string, err error) *SyncError {
	return &SyncError{Account: account, Folder: folder, Op: op, Err: err}
}
