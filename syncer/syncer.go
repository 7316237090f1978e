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
	"time"

	log "github.com/sirupsen/logrus"

	"mailsync/event"
	"mailsync/store"
)

// Reconcile converges the local cache for (account, folder) with the
// server, fetching headers for messages above the stored cursor (or the
// whole folder when the cursor is absent or its UIDVALIDITY no longer
// matches), removing cached messages the server no longer has, and
// advancing the cursor only once everything fetched has been persisted.
func (s *Syncer) Reconcile(account, folder string) ([]*store.MessageHeader, error) {
	e := log.WithFields(log.Fields{"account": account, "folder": folder})
	e.Trace("sync_reconcile_start")

	sess, err := s.openSession(account, folder)
	if err != nil {
		return nil, s.syncError(account, folder, "connect", err)
	}
	defer sess.close()

	uidValidity := sess.mbox.UidValidity

	status, err := s.store.SyncStatus(account, folder)
	if err != nil {
		return nil, s.syncError(account, folder, "load_cursor", err)
	}

	full := status == nil || status.UIDValidity != uidValidity
	if full && status != nil {
		// The folder was recreated or reset under us. Every cached UID
		// now refers to nothing; they cannot be reused as if they still
		// named the same messages.
		e.WithFields(log.Fields{
			"stored_uidvalidity": status.UIDValidity,
			"server_uidvalidity": uidValidity,
		}).Info("sync_full_resync")

		if err := s.discardFolder(account, folder); err != nil {
			return nil, s.syncError(account, folder, "discard_stale", err)
		}
		status = nil
	}

	serverUIDs, err := sess.searchAll()
	if err != nil {
		if rerr := sess.reset(); rerr != nil {
			return nil, s.syncError(account, folder, "enumerate", rerr)
		}
		if serverUIDs, err = sess.searchAll(); err != nil {
			return nil, s.syncError(account, folder, "enumerate", err)
		}
	}

	target := serverUIDs
	if !full {
		target = uidsAbove(serverUIDs, status.HighestUID)
	}

	e.WithFields(log.Fields{
		"full":       full,
		"server_num": len(serverUIDs),
		"target_num": len(target),
	}).Trace("sync_target_selected")

	headers, failedUIDs, err := s.fetchBatches(sess, target, uidValidity)
	if err != nil {
		return nil, s.syncError(account, folder, "fetch", err)
	}

	retried, err := s.retryFailed(sess, failedUIDs, uidValidity)
	if err != nil {
		return nil, s.syncError(account, folder, "fetch_retry", err)
	}
	headers = append(headers, retried...)

	removed, err := s.dropMissing(account, folder, serverUIDs)
	if err != nil {
		return nil, s.syncError(account, folder, "delete_missing", err)
	}

	if len(headers) > 0 {
		if err := s.store.SaveHeaders(account, folder, headers); err != nil {
			return nil, s.syncError(account, folder, "save_headers", err)
		}
	}

	newStatus := &store.SyncStatus{
		UIDValidity: uidValidity,
		HighestUID:  maxUID(serverUIDs),
		LastSync:    time.Now(),
	}
	if status != nil && status.HighestUID > newStatus.HighestUID {
		// Deleting the newest message must not move the cursor back.
		newStatus.HighestUID = status.HighestUID
	}

	if err := s.store.SaveSyncStatus(account, folder, newStatus); err != nil {
		return nil, s.syncError(account, folder, "save_cursor", err)
	}

	if len(headers) > 0 {
		s.sink.Emit(event.Event{
			Kind:    event.KindNewMessages,
			Account: account,
			Folder:  folder,
			Count:   len(headers),
		})
	}
	if removed > 0 {
		s.sink.Emit(event.Event{
			Kind:    event.KindExpunge,
			Account: account,
			Folder:  folder,
			Count:   removed,
		})
	}

	e.WithFields(log.Fields{
		"fetched":     len(headers),
		"removed":     removed,
		"highest_uid": newStatus.HighestUID,
	}).Info("sync_reconcile_complete")

	return headers, nil
}

// ReconcileFlags refreshes the flag state of every cached message in the
// folder without re-fetching headers, and returns how many rows actually
// changed.
func (s *Syncer) ReconcileFlags(account, folder string) (int, error) {
	e := log.WithFields(log.Fields{"account": account, "folder": folder})
	e.Trace("sync_flags_start")

	cached, err := s.store.Headers(account, folder)
	if err != nil {
		return 0, s.syncError(account, folder, "load_headers", err)
	}

	if len(cached) == 0 {
		return 0, nil
	}

	sess, err := s.openSession(account, folder)
	if err != nil {
		return 0, s.syncError(account, folder, "connect", err)
	}
	defer sess.close()

	known := make(map[uint32]string, len(cached))
	uids := make([]uint32, 0, len(cached))
	for _, hdr := range cached {
		known[hdr.UID] = store.CanonicalFlags(hdr.Flags)
		uids = append(uids, hdr.UID)
	}

	changed := 0
	for _, batch := range chunkUIDs(uids, s.batchSize) {
		msgs, err := sess.fetchUIDs(batch, flagItems)
		if err != nil {
			if rerr := sess.reset(); rerr != nil {
				return changed, s.syncError(account, folder, "fetch_flags", rerr)
			}
			if msgs, err = sess.fetchUIDs(batch, flagItems); err != nil {
				return changed, s.syncError(account, folder, "fetch_flags", err)
			}
		}

		for _, msg := range msgs {
			if msg.Uid == 0 {
				continue
			}

			want, ok := known[msg.Uid]
			if !ok || want == store.CanonicalFlags(msg.Flags) {
				continue
			}

			if err := s.store.UpdateFlags(account, folder, msg.Uid, msg.Flags); err != nil {
				return changed, s.syncError(account, folder, "update_flags", err)
			}
			changed++
		}
	}

	if changed > 0 {
		s.sink.Emit(event.Event{
			Kind:    event.KindFlagsChanged,
			Account: account,
			Folder:  folder,
			Count:   changed,
		})
	}

	e.WithField("changed", changed).Info("sync_flags_complete")
	return changed, nil
}

// ReconcileFlagsSingle refreshes one message's flags. The push session
// uses it when the server announces a flag change for a specific message,
// which is far cheaper than a whole-folder flag pass.
func (s *Syncer) ReconcileFlagsSingle(account, folder string, uid uint32) (bool, error) {
	e := log.WithFields(log.Fields{"account": account, "folder": folder, "uid": uid})
	e.Trace("sync_flags_single_start")

	cached, err := s.store.Headers(account, folder)
	if err != nil {
		return false, s.syncError(account, folder, "load_headers", err)
	}

	var want string
	found := false
	for _, hdr := range cached {
		if hdr.UID == uid {
			want = store.CanonicalFlags(hdr.Flags)
			found = true
			break
		}
	}

	if !found {
		// Not cached yet; a flag event for an unknown message means a
		// reconcile is owed, but that is the caller's decision.
		e.Trace("sync_flags_single_unknown_uid")
		return false, nil
	}

	sess, err := s.openSession(account, folder)
	if err != nil {
		return false, s.syncError(account, folder, "connect", err)
	}
	defer sess.close()

	msgs, err := sess.fetchUIDs([]uint32{uid}, flagItems)
	if err != nil {
		if rerr := sess.reset(); rerr != nil {
			return false, s.syncError(account, folder, "fetch_flags", rerr)
		}
		if msgs, err = sess.fetchUIDs([]uint32{uid}, flagItems); err != nil {
			return false, s.syncError(account, folder, "fetch_flags", err)
		}
	}

	if len(msgs) == 0 {
		e.Trace("sync_flags_single_message_gone")
		return false, nil
	}

	if want == store.CanonicalFlags(msgs[0].Flags) {
		return false, nil
	}

	if err := s.store.UpdateFlags(account, folder, uid, msgs[0].Flags); err != nil {
		return false, s.syncError(account, folder, "update_flags", err)
	}

	s.sink.Emit(event.Event{
		Kind:    event.KindFlagsChanged,
		Account: account,
		Folder:  folder,
		UID:     uid,
		Count:   1,
	})

	e.Info("sync_flags_single_changed")
	return true, nil
}

// discardFolder drops the cached headers and cursor for a folder whose
// UIDVALIDITY changed.
func (s *Syncer) discardFolder(account, folder string) error {
	cached, err := s.store.CachedUIDs(account, folder)
	if err != nil {
		return err
	}

	if len(cached) > 0 {
		if err := s.store.DeleteHeaders(account, folder, cached); err != nil {
			return err
		}
	}

	return s.store.DeleteSyncStatus(account, folder)
}

// dropMissing deletes cached messages absent from the server's current
// enumeration and returns how many were removed.
func (s *Syncer) dropMissing(account, folder string, serverUIDs []uint32) (int, error) {
	cached, err := s.store.CachedUIDs(account, folder)
	if err != nil {
		return 0, err
	}

	onServer := make(map[uint32]bool, len(serverUIDs))
	for _, uid := range serverUIDs {
		onServer[uid] = true
	}

	var gone []uint32
	for _, uid := range cached {
		if !onServer[uid] {
			gone = append(gone, uid)
		}
	}

	if len(gone) == 0 {
		return 0, nil
	}

	if err := s.store.DeleteHeaders(account, folder, gone); err != nil {
		return 0, err
	}

	return len(gone), nil
}

func uidsAbove(uids []uint32, floor uint32) []uint32 {
	var out []uint32
	for _, uid := range uids {
		if uid > floor {
			out = append(out, uid)
		}
	}
	return out
}

func maxUID(uids []uint32) uint32 {
	var max uint32
	for _, uid := range uids {
		if uid > max {
			max = uid
		}
	}
	return max
}
