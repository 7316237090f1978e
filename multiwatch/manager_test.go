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
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"mailsync/credential"
	"mailsync/imap"
	imapclient "mailsync/imap/client"
	"mailsync/imap/mock"
	"mailsync/internal"
	"mailsync/store"
	"mailsync/watcher"
)

const (
	aliceAccount = "alice@example.com"
	bobAccount   = "bob@example.com"
)

type nopReconciler struct{}

func (nopReconciler) Reconcile(account, folder string) ([]*store.MessageHeader, error) {
	return nil, nil
}

func (nopReconciler) ReconcileFlagsSingle(account, folder string, uid uint32) (bool, error) {
	return false, nil
}

func testCreds(hostPort string) credential.Provider {
	return credential.Static{
		aliceAccount: imap.ConnectionConfig{
			HostPort: hostPort,
			Auth:     imap.NewNormalAuthenticator("username", "password"),
		},
		bobAccount: imap.ConnectionConfig{
			HostPort: hostPort,
			Auth:     imap.NewNormalAuthenticator("username", "password"),
		},
	}
}

// testManager builds a manager whose sessions can never connect and sit
// in their reconnect backoff, so the session table stays deterministic.
func testManager(t *testing.T, cfg Config) *Manager {
	ctrl := gomock.NewController(t)

	factory := mock.NewMockClientFactory(ctrl)
	factory.EXPECT().NewClient(gomock.Any()).
		Return(nil, errors.New("connection refused")).
		AnyTimes()

	cfg.Credentials = testCreds("localhost:143")
	cfg.Factory = factory
	cfg.Syncer = nopReconciler{}
	cfg.ReconnectDelay = time.Hour

	m := NewManager(&cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManagerStartStop(t *testing.T) {
	m := testManager(t, Config{})

	assert.NoError(t, m.Start(aliceAccount, "INBOX"))
	assert.True(t, m.IsActive(aliceAccount, "INBOX"))
	assert.False(t, m.IsActive(aliceAccount, "Sent"))

	assert.ErrorIs(t, m.Start(aliceAccount, "INBOX"), ErrAlreadyActive)

	status := m.Status()
	assert.Len(t, status, 1)
	assert.Contains(t, status, Key{Account: aliceAccount, Folder: "INBOX"})

	assert.NoError(t, m.Stop(aliceAccount, "INBOX"))
	assert.False(t, m.IsActive(aliceAccount, "INBOX"))
	assert.ErrorIs(t, m.Stop(aliceAccount, "INBOX"), ErrNotActive)
}

func TestManagerStartAccountPrimary(t *testing.T) {
	m := testManager(t, Config{})

	assert.NoError(t, m.StartAccount(aliceAccount))
	assert.True(t, m.IsActive(aliceAccount, "INBOX"))
	assert.Len(t, m.Status(), 1)

	// Already running; not an error.
	assert.NoError(t, m.StartAccount(aliceAccount))
	assert.Len(t, m.Status(), 1)
}

func TestManagerStartAccountTruncatesFolders(t *testing.T) {
	m := testManager(t, Config{
		SessionsPerAccount: 2,
		AccountFolders: func(account string) []string {
			return []string{"INBOX", "Sent", "Archive"}
		},
	})

	assert.NoError(t, m.StartAccount(aliceAccount))
	assert.True(t, m.IsActive(aliceAccount, "INBOX"))
	assert.True(t, m.IsActive(aliceAccount, "Sent"))
	assert.False(t, m.IsActive(aliceAccount, "Archive"))

	assert.NoError(t, m.StopAccount(aliceAccount))
	assert.Empty(t, m.Status())
	assert.ErrorIs(t, m.StopAccount(aliceAccount), ErrNotActive)
}

func TestManagerStopAccountLeavesOthers(t *testing.T) {
	m := testManager(t, Config{})

	assert.NoError(t, m.Start(aliceAccount, "INBOX"))
	assert.NoError(t, m.Start(aliceAccount, "Sent"))
	assert.NoError(t, m.Start(bobAccount, "INBOX"))

	assert.NoError(t, m.StopAccount(aliceAccount))

	status := m.Status()
	assert.Len(t, status, 1)
	assert.Contains(t, status, Key{Account: bobAccount, Folder: "INBOX"})
}

func TestManagerStopAll(t *testing.T) {
	m := testManager(t, Config{})

	assert.NoError(t, m.Start(aliceAccount, "INBOX"))
	assert.NoError(t, m.Start(bobAccount, "INBOX"))
	assert.NoError(t, m.StopAll())
	assert.Empty(t, m.Status())

	// Nothing running; still fine.
	assert.NoError(t, m.StopAll())
}

func TestManagerSubmit(t *testing.T) {
	m := testManager(t, Config{})

	assert.NoError(t, m.Submit(Command{Kind: CommandStart, Account: aliceAccount, Folder: "INBOX"}))
	assert.True(t, m.IsActive(aliceAccount, "INBOX"))

	assert.NoError(t, m.Submit(Command{Kind: CommandStop, Account: aliceAccount, Folder: "INBOX"}))
	assert.False(t, m.IsActive(aliceAccount, "INBOX"))

	assert.NoError(t, m.Submit(Command{Kind: CommandStartAccount, Account: bobAccount}))
	assert.NoError(t, m.Submit(Command{Kind: CommandStopAccount, Account: bobAccount}))
	assert.NoError(t, m.Submit(Command{Kind: CommandStopAll}))

	assert.Error(t, m.Submit(Command{Kind: CommandKind(99)}))
}

func TestManagerClose(t *testing.T) {
	m := testManager(t, Config{})

	assert.NoError(t, m.Start(aliceAccount, "INBOX"))
	assert.NoError(t, m.Close())

	assert.ErrorIs(t, m.Start(aliceAccount, "INBOX"), ErrShutdown)
	assert.ErrorIs(t, m.StartAccount(aliceAccount), ErrShutdown)
	assert.False(t, m.IsActive(aliceAccount, "INBOX"))
	assert.Empty(t, m.Status())

	// Idempotent.
	assert.NoError(t, m.Close())
}

// A session that stops on its own (the test server has no IDLE support)
// must be removed from the table without an explicit Stop.
func TestManagerReapsSelfStoppedSession(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	m := NewManager(&Config{
		Credentials: testCreds(addr),
		Factory:     &imapclient.Factory{},
		Syncer:      nopReconciler{},
	})
	defer func() { _ = m.Close() }()

	assert.NoError(t, m.Start(aliceAccount, "INBOX"))

	deadline := time.Now().Add(10 * time.Second)
	for m.IsActive(aliceAccount, "INBOX") {
		if time.Now().After(deadline) {
			t.Fatal("stopped session was never reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.ErrorIs(t, m.Stop(aliceAccount, "INBOX"), ErrNotActive)
}

var _ watcher.Reconciler = nopReconciler{}
