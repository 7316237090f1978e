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
	"errors"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"mailsync/watcher"
)

var (
	ErrAlreadyActive = errors.New("session already active")
	ErrNotActive     = errors.New("no active session")
	ErrShutdown      = errors.New("manager shut down")

	errUnknownCommand = errors.New("unknown command")
)

// Manager supervises the set of push sessions across all accounts. The
// session table is owned by a single goroutine and only ever mutated in
// response to requests on its inbound channel, which serialises
// concurrent start/stop traffic and makes the one-session-per-key
// invariant trivial to hold.
type Manager struct {
	cfg Config

	ch       chan interface{}
	exits    chan Key
	closeCh  chan closeRequest
	shutdown int32
	done     chan struct{}

	// sessions is touched only from run().
	sessions map[Key]*watcher.Watcher
}

func NewManager(cfg *Config) *Manager {
	ourCfg := *cfg
	if ourCfg.PrimaryFolder == "" {
		ourCfg.PrimaryFolder = "INBOX"
	}
	if ourCfg.SessionsPerAccount == 0 {
		ourCfg.SessionsPerAccount = 1
	}

	m := &Manager{
		cfg:      ourCfg,
		ch:       make(chan interface{}),
		exits:    make(chan Key, 16),
		closeCh:  make(chan closeRequest),
		done:     make(chan struct{}),
		sessions: map[Key]*watcher.Watcher{},
	}

	go m.run()
	return m
}

func (m *Manager) isShutdown() bool {
	return atomic.LoadInt32(&m.shutdown) != 0
}

// Submit dispatches a tagged command. It blocks until the command has
// been applied (and, for the stop variants, until every affected session
// has acknowledged).
func (m *Manager) Submit(cmd Command) error {
	switch cmd.Kind {
	case CommandStart:
		return m.Start(cmd.Account, cmd.Folder)
	case CommandStop:
		return m.Stop(cmd.Account, cmd.Folder)
	case CommandStartAccount:
		return m.StartAccount(cmd.Account)
	case CommandStopAccount:
		return m.StopAccount(cmd.Account)
	case CommandStopAll:
		return m.StopAll()
	default:
		return errUnknownCommand
	}
}

// Start spawns a push session for (account, folder). Starting a key that
// already has a running session reports ErrAlreadyActive and changes
// nothing.
func (m *Manager) Start(account, folder string) error {
	if m.isShutdown() {
		return ErrShutdown
	}

	r := make(chan error)
	m.ch <- startRequest{r: r, account: account, folder: folder}
	return <-r
}

// Stop tears down the session for (account, folder), waiting until its
// goroutine has released the connection.
func (m *Manager) Stop(account, folder string) error {
	if m.isShutdown() {
		return ErrShutdown
	}

	r := make(chan error)
	m.ch <- stopRequest{r: r, account: account, folder: folder}
	return <-r
}

// StartAccount starts sessions for the account's monitored folders: the
// primary folder, or the configured folder list truncated to the
// per-account session cap.
func (m *Manager) StartAccount(account string) error {
	if m.isShutdown() {
		return ErrShutdown
	}

	r := make(chan error)
	m.ch <- startAccountRequest{r: r, account: account}
	return <-r
}

// StopAccount stops every session belonging to the account and waits for
// all of them, so no orphaned task survives an account removal.
func (m *Manager) StopAccount(account string) error {
	if m.isShutdown() {
		return ErrShutdown
	}

	r := make(chan error)
	m.ch <- stopAccountRequest{r: r, account: account}
	return <-r
}

// StopAll stops every session across all accounts and waits for all of
// them.
func (m *Manager) StopAll() error {
	if m.isShutdown() {
		return ErrShutdown
	}

	r := make(chan error)
	m.ch <- stopAllRequest{r: r}
	return <-r
}

// IsActive reports whether a session exists for (account, folder).
func (m *Manager) IsActive(account, folder string) bool {
	if m.isShutdown() {
		return false
	}

	r := make(chan bool)
	m.ch <- isActiveRequest{r: r, account: account, folder: folder}
	return <-r
}

// Status returns a snapshot of every session's state.
func (m *Manager) Status() map[Key]watcher.State {
	if m.isShutdown() {
		return map[Key]watcher.State{}
	}

	r := make(chan map[Key]watcher.State)
	m.ch <- statusRequest{r: r}
	return <-r
}

// Close stops all sessions and shuts the manager down. Submitting after
// Close reports ErrShutdown.
func (m *Manager) Close() error {
	if m.isShutdown() {
		return nil
	}

	r := make(chan error)
	m.closeCh <- closeRequest{r: r}
	return <-r
}

func (m *Manager) run() {
	for {
		select {
		case req := <-m.closeCh:
			log.Trace("multiwatch_close_request")
			m.handleStopAll()
			req.r <- nil
			goto done
		case key := <-m.exits:
			m.reap(key)
		case _req := <-m.ch:
			switch req := _req.(type) {
			case startRequest:
				req.r <- m.handleStart(req.account, req.folder)
			case stopRequest:
				req.r <- m.handleStop(req.account, req.folder)
			case startAccountRequest:
				req.r <- m.handleStartAccount(req.account)
			case stopAccountRequest:
				req.r <- m.handleStopAccount(req.account)
			case stopAllRequest:
				m.handleStopAll()
				req.r <- nil
			case isActiveRequest:
				_, ok := m.sessions[Key{Account: req.account, Folder: req.folder}]
				req.r <- ok
			case statusRequest:
				req.r <- m.snapshot()
			}
		}
	}

done:
	atomic.StoreInt32(&m.shutdown, 1)
	m.drainRequests()
	close(m.done)
	log.Trace("multiwatch_proc_exit")
}

func (m *Manager) handleStart(account, folder string) error {
	key := Key{Account: account, Folder: folder}
	e := log.WithFields(log.Fields{"account": account, "folder": folder})

	if _, ok := m.sessions[key]; ok {
		e.Info("multiwatch_already_active")
		return ErrAlreadyActive
	}

	w := watcher.NewWatcher(&watcher.Config{
		Account:         account,
		Folder:          folder,
		Credentials:     m.cfg.Credentials,
		Factory:         m.cfg.Factory,
		Syncer:          m.cfg.Syncer,
		Sink:            m.cfg.Sink,
		ReconnectDelay:  m.cfg.ReconnectDelay,
		MaxIdleTime:     m.cfg.MaxIdleTime,
		PollInterval:    m.cfg.PollInterval,
		MaxSyncInterval: m.cfg.MaxSyncInterval,
		MaxCycles:       m.cfg.MaxCycles,
	})
	m.sessions[key] = w

	// Sessions can stop on their own (IDLE unsupported); get the table
	// entry cleaned up when they do.
	go func() {
		<-w.Done()
		select {
		case m.exits <- key:
		case <-m.done:
		}
	}()

	e.Info("multiwatch_session_started")
	return nil
}

func (m *Manager) handleStop(account, folder string) error {
	key := Key{Account: account, Folder: folder}
	e := log.WithFields(log.Fields{"account": account, "folder": folder})

	w, ok := m.sessions[key]
	if !ok {
		e.Trace("multiwatch_stop_not_active")
		return ErrNotActive
	}

	delete(m.sessions, key)
	w.Stop()
	e.Info("multiwatch_session_stopped")
	return nil
}

func (m *Manager) handleStartAccount(account string) error {
	folders := []string{m.cfg.PrimaryFolder}
	if m.cfg.AccountFolders != nil {
		if fl := m.cfg.AccountFolders(account); len(fl) > 0 {
			folders = fl
		}
	}

	if uint(len(folders)) > m.cfg.SessionsPerAccount {
		log.WithFields(log.Fields{
			"account":   account,
			"requested": len(folders),
			"limit":     m.cfg.SessionsPerAccount,
		}).Warn("multiwatch_folder_list_truncated")
		folders = folders[:m.cfg.SessionsPerAccount]
	}

	var savedErr error
	for _, folder := range folders {
		if err := m.handleStart(account, folder); err != nil && err != ErrAlreadyActive {
			savedErr = err
		}
	}

	return savedErr
}

func (m *Manager) handleStopAccount(account string) error {
	stopped := 0
	for key := range m.sessions {
		if key.Account != account {
			continue
		}
		if err := m.handleStop(key.Account, key.Folder); err == nil {
			stopped++
		}
	}

	if stopped == 0 {
		return ErrNotActive
	}
	return nil
}

func (m *Manager) handleStopAll() {
	for key := range m.sessions {
		_ = m.handleStop(key.Account, key.Folder)
	}
}

// reap removes a session that stopped of its own accord. The key may have
// been removed already by an explicit Stop; only reap a watcher that is
// actually done.
func (m *Manager) reap(key Key) {
	w, ok := m.sessions[key]
	if !ok {
		return
	}

	select {
	case <-w.Done():
		delete(m.sessions, key)
		log.WithFields(log.Fields{
			"account": key.Account,
			"folder":  key.Folder,
		}).Info("multiwatch_session_reaped")
	default:
	}
}

func (m *Manager) snapshot() map[Key]watcher.State {
	out := make(map[Key]watcher.State, len(m.sessions))
	for key, w := range m.sessions {
		out[key] = w.State()
	}
	return out
}

func (m *Manager) drainRequests() {
	for {
		select {
		case _req := <-m.ch:
			switch req := _req.(type) {
			case startRequest:
				req.r <- ErrShutdown
			case stopRequest:
				req.r <- ErrShutdown
			case startAccountRequest:
				req.r <- ErrShutdown
			case stopAccountRequest:
				req.r <- ErrShutdown
			case stopAllRequest:
				req.r <- ErrShutdown
			case isActiveRequest:
				req.r <- false
			case statusRequest:
				req.r <- map[Key]watcher.State{}
			}
		default:
			return
		}
	}
}
