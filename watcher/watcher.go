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
	"sync"
	"sync/atomic"
	"time"

	goimap "github.com/emersion/go-imap"
	client2 "github.com/emersion/go-imap/client"
	log "github.com/sirupsen/logrus"

	"mailsync/event"
	imap2 "mailsync/imap"
)

const idleCapability = "IDLE"

// Watcher is one push session: a goroutine that keeps a connection to a
// single (account, folder) in IDLE, decodes the server's unsolicited
// notifications and drives the sync engine in response. It survives
// disconnects by reconnecting after a short delay and stops cleanly when
// the server turns out not to support IDLE at all.
type Watcher struct {
	cfg Config

	updates    chan client2.Update
	wantStop   chan struct{}
	stopOnce   sync.Once
	hasStopped chan struct{}

	state      int32
	lastExists uint32
	lastSync   time.Time
}

type monitorResult int

const (
	monitorStop monitorResult = iota
	monitorReconnect
	monitorCycleLimit
)

type cycleResult int

const (
	cycleStop cycleResult = iota
	cycleError
	cycleNotified
)

func NewWatcher(cfg *Config) *Watcher {
	ourCfg := *cfg
	if ourCfg.ReconnectDelay == 0 {
		ourCfg.ReconnectDelay = 2 * time.Second
	}
	if ourCfg.MaxIdleTime == 0 {
		// Yahoo kills us after 5 minutes, so stay well under it.
		ourCfg.MaxIdleTime = 250 * time.Second
	}
	if ourCfg.PollInterval == 0 {
		ourCfg.PollInterval = time.Minute
	}
	if ourCfg.MaxSyncInterval == 0 {
		ourCfg.MaxSyncInterval = 15 * time.Minute
	}
	if ourCfg.MaxCycles == 0 {
		ourCfg.MaxCycles = 64
	}
	if ourCfg.Sink == nil {
		ourCfg.Sink = event.NopSink{}
	}

	w := &Watcher{
		cfg:        ourCfg,
		updates:    make(chan client2.Update, 10),
		wantStop:   make(chan struct{}),
		hasStopped: make(chan struct{}),
	}

	go w.run()
	return w
}

// Stop signals the session and waits until its goroutine has released the
// connection. Stopping an already-stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.wantStop) })
	<-w.hasStopped
}

// Done is closed once the session has fully stopped, whether by Stop or
// on its own (e.g. IDLE unsupported).
func (w *Watcher) Done() <-chan struct{} {
	return w.hasStopped
}

func (w *Watcher) State() State {
	return State(atomic.LoadInt32(&w.state))
}

func (w *Watcher) setState(s State) {
	old := State(atomic.SwapInt32(&w.state, int32(s)))
	if old != s {
		w.log().WithFields(log.Fields{
			"old": old,
			"new": s,
		}).Trace("watcher_state_change")
	}
}

func (w *Watcher) log() *log.Entry {
	return log.WithFields(log.Fields{
		"account": w.cfg.Account,
		"folder":  w.cfg.Folder,
	})
}

func (w *Watcher) stopping() bool {
	select {
	case <-w.wantStop:
		return true
	default:
		return false
	}
}

func (w *Watcher) run() {
	defer close(w.hasStopped)
	defer w.setState(StateStopped)

	for {
		if w.stopping() {
			return
		}

		w.setState(StateConnecting)
		c, idleOK, err := w.connect()
		if err != nil {
			w.log().WithError(err).Warn("watcher_connect_failed")
			if !w.sleepReconnect() {
				return
			}
			continue
		}

		if !idleOK {
			// No point hammering a server that will never push;
			// report once so the caller can fall back to polling.
			w.log().Warn("watcher_idle_unsupported")
			w.cfg.Sink.Emit(event.Event{
				Kind:    event.KindConnectionLost,
				Account: w.cfg.Account,
				Folder:  w.cfg.Folder,
			})
			_ = c.Logout()
			return
		}

		// Catch anything that happened while we were not watching.
		if _, err := w.cfg.Syncer.Reconcile(w.cfg.Account, w.cfg.Folder); err != nil {
			w.log().WithError(err).Warn("watcher_initial_sync_failed")
		}
		w.lastSync = time.Now()

		w.setState(StateMonitoring)
		reason := w.monitor(c)
		_ = c.Logout()

		switch reason {
		case monitorStop:
			return
		case monitorCycleLimit:
			w.log().Trace("watcher_preventive_reconnect")
		case monitorReconnect:
			if !w.sleepReconnect() {
				return
			}
		}
	}
}

func (w *Watcher) connect() (imap2.Client, bool, error) {
	conn, err := w.cfg.Credentials.Lookup(w.cfg.Account)
	if err != nil {
		return nil, false, err
	}

	c, err := w.cfg.Factory.NewClient(&imap2.ClientConfig{
		ConnectionConfig: conn,
		Updates:          w.updates,
	})
	if err != nil {
		return nil, false, err
	}

	mbox, err := c.Select(w.cfg.Folder, true)
	if err != nil {
		_ = c.Logout()
		return nil, false, err
	}

	ok, err := c.Support(idleCapability)
	if err != nil {
		_ = c.Logout()
		return nil, false, err
	}

	w.lastExists = mbox.Messages
	return c, ok, nil
}

// sleepReconnect waits out the reconnect delay. It returns false if the
// session was stopped while waiting.
func (w *Watcher) sleepReconnect() bool {
	w.setState(StateReconnecting)
	select {
	case <-w.wantStop:
		return false
	case <-time.After(w.cfg.ReconnectDelay):
		return true
	}
}

func (w *Watcher) monitor(c imap2.Client) monitorResult {
	var cycles uint
	for {
		if cycles >= w.cfg.MaxCycles {
			return monitorCycleLimit
		}
		cycles++

		switch w.idleCycle(c) {
		case cycleStop:
			return monitorStop
		case cycleError:
			return monitorReconnect
		case cycleNotified:
			// back around for the next IDLE
		}

		if time.Since(w.lastSync) >= w.cfg.MaxSyncInterval {
			w.log().Trace("watcher_periodic_sync")
			if _, err := w.cfg.Syncer.Reconcile(w.cfg.Account, w.cfg.Folder); err != nil {
				w.log().WithError(err).Warn("watcher_periodic_sync_failed")
			}
			w.lastSync = time.Now()
		}
	}
}

// pending accumulates decoded notifications observed during one cycle,
// so a burst of updates collapses into one reconcile.
type pending struct {
	reconcile bool
	flagUIDs  []uint32
	flagSeqs  []uint32
}

func (p *pending) any() bool {
	return p.reconcile || len(p.flagUIDs) > 0 || len(p.flagSeqs) > 0
}

// idleCycle runs a single IDLE invocation: block until the server pushes
// something interesting, the session is stopped, or the connection dies.
func (w *Watcher) idleCycle(c imap2.Client) cycleResult {
	stopIdle := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- c.Idle(stopIdle, &client2.IdleOptions{
			LogoutTimeout: w.cfg.MaxIdleTime,
			PollInterval:  w.cfg.PollInterval,
		})
	}()

	var act pending
	stopRequested := false
	stopIdleNow := func() {
		if !stopRequested {
			close(stopIdle)
			stopRequested = true
		}
	}

	var idleErr error
loop:
	for {
		select {
		case <-w.wantStop:
			stopIdleNow()
			// Keep draining updates so the client's reader can't
			// block while IDLE winds down.
			for {
				select {
				case <-w.updates:
				case idleErr = <-idleDone:
					return cycleStop
				}
			}
		case <-c.LoggedOut():
			w.log().Trace("watcher_logged_out")
			stopIdleNow()
			<-idleDone
			return cycleError
		case idleErr = <-idleDone:
			break loop
		case upd := <-w.updates:
			if n := w.decode(upd); n != nil {
				w.absorb(n, &act)
				stopIdleNow()
			}
		}
	}

	if idleErr != nil {
		w.log().WithError(idleErr).Warn("watcher_idle_failed")
		return cycleError
	}

	if act.any() {
		w.apply(c, &act)
	}

	return cycleNotified
}

// decode maps a raw go-imap update to a notification variant, or nil for
// updates that need no action.
func (w *Watcher) decode(upd client2.Update) notification {
	switch vv := upd.(type) {
	case *client2.StatusUpdate:
		// INFO because the server often puts useful diagnostics here.
		w.log().WithFields(log.Fields{
			"type": vv.Status.Type,
			"code": vv.Status.Code,
			"info": vv.Status.Info,
		}).Info("watcher_status_update")
		return nil
	case *client2.MailboxUpdate:
		count := vv.Mailbox.Messages
		w.log().WithFields(log.Fields{
			"messages": count,
			"known":    w.lastExists,
		}).Trace("watcher_mailbox_update")

		if count > w.lastExists {
			n := newMessages{count: count - w.lastExists}
			w.lastExists = count
			return n
		}

		w.lastExists = count
		return nil
	case *client2.ExpungeUpdate:
		w.log().WithField("seq", vv.SeqNum).Trace("watcher_expunge_update")
		if w.lastExists > 0 {
			w.lastExists--
		}
		return expunged{seq: vv.SeqNum}
	case *client2.MessageUpdate:
		if vv.Message == nil {
			return nil
		}
		w.log().WithFields(log.Fields{
			"seq":   vv.Message.SeqNum,
			"uid":   vv.Message.Uid,
			"flags": vv.Message.Flags,
		}).Trace("watcher_message_update")
		return flagsChanged{uid: vv.Message.Uid, seq: vv.Message.SeqNum}
	default:
		return nil
	}
}

func (w *Watcher) absorb(n notification, act *pending) {
	switch v := n.(type) {
	case newMessages:
		act.reconcile = true
	case expunged:
		// Removal is handled by the reconcile's UID diff.
		act.reconcile = true
	case flagsChanged:
		if v.uid != 0 {
			act.flagUIDs = append(act.flagUIDs, v.uid)
		} else if v.seq != 0 {
			act.flagSeqs = append(act.flagSeqs, v.seq)
		}
	}
}

// apply acts on the accumulated notifications, now that the connection is
// out of IDLE and usable for commands again.
func (w *Watcher) apply(c imap2.Client, act *pending) {
	if act.reconcile {
		if _, err := w.cfg.Syncer.Reconcile(w.cfg.Account, w.cfg.Folder); err != nil {
			w.log().WithError(err).Warn("watcher_reconcile_failed")
		}
		w.lastSync = time.Now()
		// A full reconcile refreshes flags of new messages anyway, but
		// targeted flag events still need their narrow refresh.
	}

	uids := act.flagUIDs
	if len(act.flagSeqs) > 0 {
		resolved, err := w.resolveUIDs(c, act.flagSeqs)
		if err != nil {
			w.log().WithError(err).Warn("watcher_uid_resolve_failed")
		} else {
			uids = append(uids, resolved...)
		}
	}

	for _, uid := range uids {
		if _, err := w.cfg.Syncer.ReconcileFlagsSingle(w.cfg.Account, w.cfg.Folder, uid); err != nil {
			w.log().WithError(err).WithField("uid", uid).Warn("watcher_flag_refresh_failed")
		}
	}
}

// resolveUIDs maps sequence numbers from an unsolicited FETCH to UIDs.
func (w *Watcher) resolveUIDs(c imap2.Client, seqs []uint32) ([]uint32, error) {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(seqs...)

	ch := make(chan *goimap.Message, len(seqs))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []goimap.FetchItem{goimap.FetchUid}, ch)
	}()

	var uids []uint32
	for msg := range ch {
		if msg.Uid != 0 {
			uids = append(uids, msg.Uid)
		}
	}

	if err := <-done; err != nil {
		return nil, err
	}

	return uids, nil
}
