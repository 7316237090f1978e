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
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"

	imap2 "mailsync/imap"
	"mailsync/store"
)

var headerItems = []goimap.FetchItem{
	goimap.FetchUid,
	goimap.FetchFlags,
	goimap.FetchEnvelope,
	goimap.FetchBodyStructure,
	goimap.FetchInternalDate,
}

var flagItems = []goimap.FetchItem{
	goimap.FetchUid,
	goimap.FetchFlags,
}

// fetchBatches is phase one of the fetch algorithm: walk the target UID
// set in fixed-size batches, retrying each failed batch once on a fresh
// connection. UIDs of batches that still fail, and UIDs whose message
// came back malformed, are returned for phase-two isolation rather than
// aborting the whole pass.
func (s *Syncer) fetchBatches(sess *session, uids []uint32, uidValidity uint32) ([]*store.MessageHeader, []uint32, error) {
	var out []*store.MessageHeader
	var failed []uint32

	for _, batch := range chunkUIDs(uids, s.batchSize) {
		msgs, err := sess.fetchUIDs(batch, headerItems)
		if err != nil {
			sess.log().WithError(err).WithField("uids", batch).Warn("sync_batch_fetch_failed")

			if err := sess.reset(); err != nil {
				// No connection to run the remaining batches (or phase
				// two) against; the pass is over.
				return nil, nil, err
			}

			msgs, err = sess.fetchUIDs(batch, headerItems)
			if err != nil {
				sess.log().WithError(err).WithField("uids", batch).Warn("sync_batch_retry_failed")
				failed = append(failed, batch...)
				continue
			}
		}

		seen := make(map[uint32]bool, len(msgs))
		for _, msg := range msgs {
			hdr, err := headerFromMessage(msg, uidValidity)
			if err != nil {
				sess.log().WithError(err).WithField("uid", msg.Uid).Warn("sync_message_malformed")
				if msg.Uid != 0 {
					failed = append(failed, msg.Uid)
					seen[msg.Uid] = true
				}
				continue
			}
			out = append(out, hdr)
			seen[msg.Uid] = true
		}

		// UIDs the server silently returned nothing for go to phase two.
		for _, uid := range batch {
			if !seen[uid] {
				failed = append(failed, uid)
			}
		}
	}

	return out, failed, nil
}

// retryFailed is phase two: every UID that failed in phase one is fetched
// individually. A connection-class failure reconnects and tries once more;
// anything structural marks the message as having no attachments and moves
// on, so one poisonous message can never wedge the folder.
func (s *Syncer) retryFailed(sess *session, failed []uint32, uidValidity uint32) ([]*store.MessageHeader, error) {
	var out []*store.MessageHeader

	for _, uid := range failed {
		e := sess.log().WithField("uid", uid)

		msgs, err := sess.fetchUIDs([]uint32{uid}, headerItems)
		if err != nil && imap2.IsConnectionError(err) {
			if rerr := sess.reset(); rerr != nil {
				return nil, rerr
			}
			msgs, err = sess.fetchUIDs([]uint32{uid}, headerItems)
		}

		if err != nil {
			if imap2.IsConnectionError(err) {
				// The connection-class path has had its second chance.
				return nil, err
			}

			// The server rejects this one message even in isolation;
			// contain it instead of wedging the folder on it forever.
			e.WithError(err).Warn("sync_message_unrecoverable")
			out = append(out, poisonHeader(nil, uid, uidValidity))
			continue
		}

		if len(msgs) == 0 {
			// Expunged between enumeration and fetch. The next
			// reconcile's deletion diff cleans up.
			e.Trace("sync_retry_message_gone")
			continue
		}

		hdr, herr := headerFromMessage(msgs[0], uidValidity)
		if herr != nil {
			e.WithError(herr).Warn("sync_message_unrecoverable")
			out = append(out, poisonHeader(msgs[0], uid, uidValidity))
			continue
		}

		e.Trace("sync_retry_message_ok")
		out = append(out, hdr)
	}

	return out, nil
}

func headerFromMessage(msg *goimap.Message, uidValidity uint32) (*store.MessageHeader, error) {
	if msg == nil || msg.Uid == 0 || msg.Envelope == nil {
		return nil, errMalformedMessage
	}

	return &store.MessageHeader{
		UID:            msg.Uid,
		UIDValidity:    uidValidity,
		Subject:        msg.Envelope.Subject,
		From:           formatAddresses(msg.Envelope.From),
		To:             formatAddresses(msg.Envelope.To),
		Date:           messageTime(msg),
		Flags:          msg.Flags,
		HasAttachments: hasAttachments(msg.BodyStructure),
	}, nil
}

// poisonHeader is the containment record for a message that failed even
// isolated retry: enough to show in a list, flagged as having no
// attachments, never retried again.
func poisonHeader(msg *goimap.Message, uid uint32, uidValidity uint32) *store.MessageHeader {
	hdr := &store.MessageHeader{
		UID:            uid,
		UIDValidity:    uidValidity,
		Date:           messageTime(msg),
		HasAttachments: false,
	}

	if msg != nil {
		hdr.Flags = msg.Flags
		if msg.Envelope != nil {
			hdr.Subject = msg.Envelope.Subject
			hdr.From = formatAddresses(msg.Envelope.From)
			hdr.To = formatAddresses(msg.Envelope.To)
		}
	}

	return hdr
}

// messageTime picks the message timestamp: the message's own date header
// when present, the server's INTERNALDATE when not, wall clock as the
// last resort. Landing on a fallback tier is not an error.
func messageTime(msg *goimap.Message) time.Time {
	if msg != nil && msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
		return msg.Envelope.Date
	}

	if msg != nil && !msg.InternalDate.IsZero() {
		return msg.InternalDate
	}

	return time.Now()
}

func hasAttachments(bs *goimap.BodyStructure) bool {
	if bs == nil {
		return false
	}

	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}

	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}

	return false
}

func formatAddresses(addrs []*goimap.Address) []string {
	var out []string
	for _, a := range addrs {
		if a == nil {
			continue
		}
		out = append(out, a.Address())
	}
	return out
}

func chunkUIDs(uids []uint32, size uint) [][]uint32 {
	if size == 0 {
		size = 1
	}

	var chunks [][]uint32
	for len(uids) > 0 {
		n := int(size)
		if n > len(uids) {
			n = len(uids)
		}
		chunks = append(chunks, uids[:n])
		uids = uids[n:]
	}
	return chunks
}
