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

// Package memstore provides an in-memory store.Store, mostly useful for
// tests and one-shot runs where persistence isn't wanted.
package memstore

import (
	"sort"
	"sync"

	"mailsync/store"
)

type folderKey struct {
	account string
	folder  string
}

type MemStore struct {
	mtx     sync.Mutex
	status  map[folderKey]store.SyncStatus
	headers map[folderKey]map[uint32]store.MessageHeader
}

func NewMemStore() *MemStore {
	return &MemStore{
		status:  map[folderKey]store.SyncStatus{},
		headers: map[folderKey]map[uint32]store.MessageHeader{},
	}
}

func (m *MemStore) SyncStatus(account, folder string) (*store.SyncStatus, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	st, ok := m.status[folderKey{account, folder}]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemStore) SaveSyncStatus(account, folder string, status *store.SyncStatus) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.status[folderKey{account, folder}] = *status
	return nil
}

func (m *MemStore) DeleteSyncStatus(account, folder string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.status, folderKey{account, folder})
	return nil
}

func (m *MemStore) CachedUIDs(account, folder string) ([]uint32, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	hdrs := m.headers[folderKey{account, folder}]
	uids := make([]uint32, 0, len(hdrs))
	for uid := range hdrs {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *MemStore) Headers(account, folder string) ([]*store.MessageHeader, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	hdrs := m.headers[folderKey{account, folder}]
	out := make([]*store.MessageHeader, 0, len(hdrs))
	for _, hdr := range hdrs {
		hdr := hdr
		out = append(out, &hdr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *MemStore) SaveHeaders(account, folder string, headers []*store.MessageHeader) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	key := folderKey{account, folder}
	hdrs := m.headers[key]
	if hdrs == nil {
		hdrs = map[uint32]store.MessageHeader{}
		m.headers[key] = hdrs
	}

	for _, hdr := range headers {
		hdrs[hdr.UID] = *hdr
	}
	return nil
}

func (m *MemStore) DeleteHeaders(account, folder string, uids []uint32) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	hdrs := m.headers[folderKey{account, folder}]
	for _, uid := range uids {
		delete(hdrs, uid)
	}
	return nil
}

func (m *MemStore) UpdateFlags(account, folder string, uid uint32, flags []string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	hdrs := m.headers[folderKey{account, folder}]
	hdr, ok := hdrs[uid]
	if !ok {
		return nil
	}

	hdr.Flags = append([]string(nil), flags...)
	hdrs[uid] = hdr
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
