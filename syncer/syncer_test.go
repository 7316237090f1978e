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
	"io"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"mailsync/credential"
	"mailsync/event"
	"mailsync/imap"
	"mailsync/imap/mock"
	"mailsync/store"
	"mailsync/store/memstore"
)

const (
	testAccount = "test@example.com"
	testFolder  = "INBOX"
)

type collectSink struct {
	events []event.Event
}

func (s *collectSink) Emit(ev event.Event) {
	s.events = append(s.events, ev)
}

func (s *collectSink) ofKind(k event.Kind) []event.Event {
	var out []event.Event
	for _, ev := range s.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// countingStore observes writes going through to the backing store.
type countingStore struct {
	store.Store
	headerSaves int
	cursorSaves int
}

func (c *countingStore) SaveHeaders(account, folder string, headers []*store.MessageHeader) error {
	c.headerSaves++
	return c.Store.SaveHeaders(account, folder, headers)
}

func (c *countingStore) SaveSyncStatus(account, folder string, status *store.SyncStatus) error {
	c.cursorSaves++
	return c.Store.SaveSyncStatus(account, folder, status)
}

func testMessage(uid uint32) *goimap.Message {
	return &goimap.Message{
		Uid:   uid,
		Flags: []string{},
		Envelope: &goimap.Envelope{
			Subject: "subject",
			Date:    time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC),
			From: []*goimap.Address{
				{MailboxName: "from", HostName: "example.com"},
			},
			To: []*goimap.Address{
				{MailboxName: "to", HostName: "example.com"},
			},
		},
		InternalDate: time.Date(2016, 5, 11, 14, 32, 0, 0, time.UTC),
	}
}

// expandSeq lists the members of candidates included in the set.
func expandSeq(seqset *goimap.SeqSet, candidates []uint32) []uint32 {
	var out []uint32
	for _, uid := range candidates {
		if seqset.Contains(uid) {
			out = append(out, uid)
		}
	}
	return out
}

// testClient wires a mock client that serves a fixed folder state:
// enumeration returns serverUIDs, fetches return a full message per UID
// (or whatever mutate returns instead).
func testClient(ctrl *gomock.Controller, uidValidity uint32, serverUIDs []uint32, mutate func(uint32) *goimap.Message) (*mock.MockClientFactory, *mock.MockClient) {
	c := mock.NewMockClient(ctrl)
	c.EXPECT().Select(testFolder, true).
		Return(&goimap.MailboxStatus{Name: testFolder, UidValidity: uidValidity, Messages: uint32(len(serverUIDs))}, nil).
		AnyTimes()
	c.EXPECT().UidSearch(gomock.Any()).Return(serverUIDs, nil).AnyTimes()
	c.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error {
			for _, uid := range expandSeq(seqset, serverUIDs) {
				if mutate != nil {
					if msg := mutate(uid); msg != nil {
						ch <- msg
						continue
					}
				}
				ch <- testMessage(uid)
			}
			close(ch)
			return nil
		}).
		AnyTimes()
	c.EXPECT().Logout().Return(nil).AnyTimes()

	factory := mock.NewMockClientFactory(ctrl)
	factory.EXPECT().NewClient(gomock.Any()).Return(c, nil).AnyTimes()
	return factory, c
}

func testCredentials() credential.Provider {
	return credential.Static{
		testAccount: imap.ConnectionConfig{
			HostPort: "localhost:143",
			Auth:     imap.NewNormalAuthenticator("username", "password"),
		},
	}
}

func uidRange(lo, hi uint32) []uint32 {
	var out []uint32
	for uid := lo; uid <= hi; uid++ {
		out = append(out, uid)
	}
	return out
}

func TestReconcileInitial(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	factory, _ := testClient(ctrl, 7, []uint32{1, 2, 3}, nil)
	sink := &collectSink{}

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
		Sink:        sink,
	})

	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Len(t, headers, 3)

	uids, err := db.CachedUIDs(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, uids)

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	if assert.NotNil(t, status) {
		assert.Equal(t, uint32(7), status.UIDValidity)
		assert.Equal(t, uint32(3), status.HighestUID)
		assert.False(t, status.LastSync.IsZero())
	}

	news := sink.ofKind(event.KindNewMessages)
	if assert.Len(t, news, 1) {
		assert.Equal(t, 3, news[0].Count)
	}
}

func TestReconcileIncremental(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	seedFolder(t, db, 7, uidRange(490, 500))

	factory, _ := testClient(ctrl, 7, uidRange(490, 510), nil)

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)

	// Only messages above the cursor get fetched.
	assert.Len(t, headers, 10)
	for _, hdr := range headers {
		assert.Greater(t, hdr.UID, uint32(500))
	}

	uids, err := db.CachedUIDs(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, uidRange(490, 510), uids)

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, uint32(510), status.HighestUID)
}

func TestReconcileFullResyncOnUIDValidityChange(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	seedFolder(t, db, 1, []uint32{10, 500})

	// Server comes back with a new UIDVALIDITY and an overlapping UID
	// range; none of the cached rows may survive.
	factory, _ := testClient(ctrl, 2, []uint32{11, 600}, nil)

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Len(t, headers, 2)

	uids, err := db.CachedUIDs(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{11, 600}, uids)

	for _, hdr := range headers {
		assert.Equal(t, uint32(2), hdr.UIDValidity)
	}

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), status.UIDValidity)
	assert.Equal(t, uint32(600), status.HighestUID)
}

func TestReconcileIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := &countingStore{Store: memstore.NewMemStore()}
	factory, _ := testClient(ctrl, 7, []uint32{1, 2, 3}, nil)

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	_, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, 1, db.headerSaves)

	first, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)

	// Nothing changed server-side; the second pass must not rewrite
	// headers and must keep the cursor where it was.
	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Len(t, headers, 0)
	assert.Equal(t, 1, db.headerSaves)

	second, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, first.UIDValidity, second.UIDValidity)
	assert.Equal(t, first.HighestUID, second.HighestUID)
}

func TestReconcileDeletion(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	seedFolder(t, db, 7, uidRange(1, 5))

	factory, _ := testClient(ctrl, 7, []uint32{1, 2, 5}, nil)
	sink := &collectSink{}

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
		Sink:        sink,
	})

	_, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)

	uids, err := db.CachedUIDs(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 5}, uids)

	exps := sink.ofKind(event.KindExpunge)
	if assert.Len(t, exps, 1) {
		assert.Equal(t, 2, exps[0].Count)
	}
}

func TestReconcileCursorNeverRegresses(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	seedFolder(t, db, 7, []uint32{100, 500})

	// The newest message was deleted; the highest remaining UID is lower
	// than the cursor.
	factory, _ := testClient(ctrl, 7, []uint32{100}, nil)

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	_, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, uint32(500), status.HighestUID)

	uids, err := db.CachedUIDs(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{100}, uids)
}

func TestReconcileMalformedMessageContained(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()

	// UID 2 always comes back without an envelope; the other messages
	// must not be held hostage by it.
	factory, _ := testClient(ctrl, 7, []uint32{1, 2, 3}, func(uid uint32) *goimap.Message {
		if uid == 2 {
			return &goimap.Message{Uid: 2, Flags: []string{goimap.FlaggedFlag}}
		}
		return nil
	})

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Len(t, headers, 3)

	byUID := map[uint32]*store.MessageHeader{}
	for _, hdr := range headers {
		byUID[hdr.UID] = hdr
	}

	assert.Equal(t, "subject", byUID[1].Subject)
	assert.Equal(t, "subject", byUID[3].Subject)

	// The poisoned record still lists, but carries no attachment claim.
	if assert.NotNil(t, byUID[2]) {
		assert.Equal(t, "", byUID[2].Subject)
		assert.False(t, byUID[2].HasAttachments)
		assert.Equal(t, []string{goimap.FlaggedFlag}, byUID[2].Flags)
	}

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, uint32(3), status.HighestUID)
}

func TestReconcileFlags(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	seedFolder(t, db, 7, []uint32{1, 2})

	// Server has marked both as seen; only UID 1 differs from the cache
	// once UID 2 is pre-seeded with the same flag.
	assert.NoError(t, db.UpdateFlags(testAccount, testFolder, 2, []string{goimap.SeenFlag}))

	factory, _ := testClient(ctrl, 7, []uint32{1, 2}, func(uid uint32) *goimap.Message {
		return &goimap.Message{Uid: uid, Flags: []string{goimap.SeenFlag}}
	})
	sink := &collectSink{}

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
		Sink:        sink,
	})

	changed, err := s.ReconcileFlags(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Equal(t, 1, changed)

	headers, err := db.Headers(testAccount, testFolder)
	assert.NoError(t, err)
	for _, hdr := range headers {
		assert.True(t, hdr.Seen())
	}

	assert.Len(t, sink.ofKind(event.KindFlagsChanged), 1)
}

func TestReconcileFlagsSingle(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()
	seedFolder(t, db, 7, []uint32{1})

	factory, _ := testClient(ctrl, 7, []uint32{1}, func(uid uint32) *goimap.Message {
		return &goimap.Message{Uid: uid, Flags: []string{goimap.SeenFlag, goimap.AnsweredFlag}}
	})
	sink := &collectSink{}

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
		Sink:        sink,
	})

	changed, err := s.ReconcileFlagsSingle(testAccount, testFolder, 1)
	assert.NoError(t, err)
	assert.True(t, changed)

	headers, err := db.Headers(testAccount, testFolder)
	assert.NoError(t, err)
	if assert.Len(t, headers, 1) {
		assert.True(t, headers[0].Seen())
	}

	evs := sink.ofKind(event.KindFlagsChanged)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, uint32(1), evs[0].UID)
	}
}

func TestReconcileFlagsSingleUnknownUID(t *testing.T) {
	ctrl := gomock.NewController(t)

	db := memstore.NewMemStore()

	// No cached message, so no connection should even be attempted; the
	// factory has no expectations and the controller enforces that.
	factory := mock.NewMockClientFactory(ctrl)

	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	changed, err := s.ReconcileFlagsSingle(testAccount, testFolder, 42)
	assert.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileBatchRetryAfterReconnect(t *testing.T) {
	ctrl := gomock.NewController(t)

	serverUIDs := []uint32{1, 2, 3}

	// The first batch fetch dies mid-transfer; the same batch must go
	// through on a fresh connection.
	c := mock.NewMockClient(ctrl)
	c.EXPECT().Select(testFolder, true).
		Return(&goimap.MailboxStatus{Name: testFolder, UidValidity: 7, Messages: 3}, nil).
		AnyTimes()
	c.EXPECT().UidSearch(gomock.Any()).Return(serverUIDs, nil).AnyTimes()

	failedOnce := false
	c.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error {
			if !failedOnce {
				failedOnce = true
				close(ch)
				return io.EOF
			}
			for _, uid := range expandSeq(seqset, serverUIDs) {
				ch <- testMessage(uid)
			}
			close(ch)
			return nil
		}).
		AnyTimes()
	c.EXPECT().Logout().Return(nil).AnyTimes()

	factory := mock.NewMockClientFactory(ctrl)
	factory.EXPECT().NewClient(gomock.Any()).Return(c, nil).Times(2)

	db := memstore.NewMemStore()
	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Len(t, headers, 3)

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	if assert.NotNil(t, status) {
		assert.Equal(t, uint32(3), status.HighestUID)
	}
}

func TestReconcileFailsWhenReconnectRefused(t *testing.T) {
	ctrl := gomock.NewController(t)

	// The connection drops during the batch fetch and the server then
	// refuses the reconnect; the pass must fail cleanly with the cursor
	// untouched.
	c := mock.NewMockClient(ctrl)
	c.EXPECT().Select(testFolder, true).
		Return(&goimap.MailboxStatus{Name: testFolder, UidValidity: 7, Messages: 3}, nil).
		AnyTimes()
	c.EXPECT().UidSearch(gomock.Any()).Return([]uint32{1, 2, 3}, nil).AnyTimes()
	c.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error {
			close(ch)
			return io.EOF
		})
	c.EXPECT().Logout().Return(nil).AnyTimes()

	factory := mock.NewMockClientFactory(ctrl)
	gomock.InOrder(
		factory.EXPECT().NewClient(gomock.Any()).Return(c, nil),
		factory.EXPECT().NewClient(gomock.Any()).Return(nil, errors.New("connection refused")),
	)

	db := memstore.NewMemStore()
	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	_, err := s.Reconcile(testAccount, testFolder)
	assert.Error(t, err)

	var serr *SyncError
	if assert.ErrorAs(t, err, &serr) {
		assert.Equal(t, "fetch", serr.Op)
	}

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Nil(t, status)
}

func TestReconcileProtocolErrorContained(t *testing.T) {
	ctrl := gomock.NewController(t)

	serverUIDs := []uint32{1, 2}

	// The server chokes on any fetch that includes UID 2, even after a
	// reconnect and in isolation. That is not a transport problem, so
	// the rest of the folder must still sync with UID 2 poisoned.
	c := mock.NewMockClient(ctrl)
	c.EXPECT().Select(testFolder, true).
		Return(&goimap.MailboxStatus{Name: testFolder, UidValidity: 7, Messages: 2}, nil).
		AnyTimes()
	c.EXPECT().UidSearch(gomock.Any()).Return(serverUIDs, nil).AnyTimes()
	c.EXPECT().UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error {
			if seqset.Contains(2) {
				close(ch)
				return errors.New("FETCH bad message set")
			}
			for _, uid := range expandSeq(seqset, serverUIDs) {
				ch <- testMessage(uid)
			}
			close(ch)
			return nil
		}).
		AnyTimes()
	c.EXPECT().Logout().Return(nil).AnyTimes()

	factory := mock.NewMockClientFactory(ctrl)
	factory.EXPECT().NewClient(gomock.Any()).Return(c, nil).Times(2)

	db := memstore.NewMemStore()
	s := NewSyncer(&Config{
		Store:       db,
		Credentials: testCredentials(),
		Factory:     factory,
	})

	headers, err := s.Reconcile(testAccount, testFolder)
	assert.NoError(t, err)
	assert.Len(t, headers, 2)

	byUID := map[uint32]*store.MessageHeader{}
	for _, hdr := range headers {
		byUID[hdr.UID] = hdr
	}

	assert.Equal(t, "subject", byUID[1].Subject)
	if assert.NotNil(t, byUID[2]) {
		assert.Equal(t, "", byUID[2].Subject)
		assert.False(t, byUID[2].HasAttachments)
	}

	status, err := db.SyncStatus(testAccount, testFolder)
	assert.NoError(t, err)
	if assert.NotNil(t, status) {
		assert.Equal(t, uint32(2), status.HighestUID)
	}
}

// seedFolder primes the store as if uids had been synced earlier under
// the given UIDVALIDITY.
func seedFolder(t *testing.T, db store.Store, uidValidity uint32, uids []uint32) {
	var headers []*store.MessageHeader
	for _, uid := range uids {
		headers = append(headers, &store.MessageHeader{
			UID:         uid,
			UIDValidity: uidValidity,
			Subject:     "subject",
			Date:        time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC),
		})
	}

	assert.NoError(t, db.SaveHeaders(testAccount, testFolder, headers))
	assert.NoError(t, db.SaveSyncStatus(testAccount, testFolder, &store.SyncStatus{
		UIDValidity: uidValidity,
		HighestUID:  uids[len(uids)-1],
		LastSync:    time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC),
	}))
}
