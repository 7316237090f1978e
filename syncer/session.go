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
	goimap "github.com/emersion/go-imap"
	log "github.com/sirupsen/logrus"

	imap2 "mailsync/imap"
)

// session wraps one folder-selected connection for the duration of a
// reconciliation. reset tears the connection down and builds a fresh one,
// which is the engine's only recovery action for transport failures.
type session struct {
	factory imap2.ClientFactory
	conn    imap2.ConnectionConfig
	account string
	folder  string

	client imap2.Client
	mbox   *goimap.MailboxStatus
}

func (s *Syncer) openSession(account, folder string) (*session, error) {
	conn, err := s.creds.Lookup(account)
	if err != nil {
		return nil, err
	}

	sess := &session{
		factory: s.factory,
		conn:    conn,
		account: account,
		folder:  folder,
	}

	if err := sess.connect(); err != nil {
		return nil, err
	}

	return sess, nil
}

func (sess *session) log() *log.Entry {
	return log.WithFields(log.Fields{
		"account": sess.account,
		"folder":  sess.folder,
	})
}

func (sess *session) connect() error {
	c, err := sess.factory.NewClient(&imap2.ClientConfig{
		ConnectionConfig: sess.conn,
	})
	if err != nil {
		return err
	}

	mbox, err := c.Select(sess.folder, true)
	if err != nil {
		_ = c.Logout()
		return err
	}

	sess.client = c
	sess.mbox = mbox
	return nil
}

// reset reconnects and re-selects the folder. If the folder's UIDVALIDITY
// changed while we were away, the reconciliation in flight can no longer
// trust any UID it has seen and must abort.
func (sess *session) reset() error {
	sess.log().Trace("sync_session_reset")

	oldValidity := sess.mbox.UidValidity
	sess.close()

	if err := sess.connect(); err != nil {
		return err
	}

	if sess.mbox.UidValidity != oldValidity {
		sess.log().WithFields(log.Fields{
			"old_uidvalidity": oldValidity,
			"new_uidvalidity": sess.mbox.UidValidity,
		}).Warn("sync_uidvalidity_changed_midway")
		return errUIDValidityChanged
	}

	return nil
}

func (sess *session) close() {
	if sess.client != nil {
		_ = sess.client.Logout()
		sess.client = nil
	}
}

// searchAll enumerates every UID currently in the folder, ascending.
func (sess *session) searchAll() ([]uint32, error) {
	all := new(goimap.SeqSet)
	all.AddRange(1, 0)

	criteria := &goimap.SearchCriteria{Uid: all}
	return sess.client.UidSearch(criteria)
}

// fetchUIDs fetches the given UID set in one round trip and returns
// whatever messages the server produced for it.
func (sess *session) fetchUIDs(uids []uint32, items []goimap.FetchItem) ([]*goimap.Message, error) {
	if sess.client == nil {
		return nil, imap2.ErrNotConnected
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)

	ch := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- sess.client.UidFetch(seqset, items, ch)
	}()

	var msgs []*goimap.Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}

	if err := <-done; err != nil {
		return nil, err
	}

	return msgs, nil
}
