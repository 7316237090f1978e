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

package credential

import (
	"crypto/tls"
	"fmt"

	"github.com/99designs/keyring"

	"mailsync/imap"
)

const defaultService = "mailsync"

func openKeyring(service string) (keyring.Keyring, error) {
	if service == "" {
		service = defaultService
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a secret by key from the system keyring.
func Get(service, key string) (string, error) {
	ring, err := openKeyring(service)
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a secret by key in the system keyring.
func Set(service, key, value string) error {
	ring, err := openKeyring(service)
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a secret by key from the system keyring.
func Delete(service, key string) error {
	ring, err := openKeyring(service)
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Entry is the non-secret half of an account's connection parameters; the
// password half lives in the keyring under the account identifier.
type Entry struct {
	HostPort  string
	Username  string
	TLS       bool
	TLSConfig *tls.Config
	Debug     bool
}

type keyringProvider struct {
	service  string
	accounts map[string]Entry
}

// NewKeyringProvider returns a Provider that resolves passwords from the
// system keyring at lookup time, so a freshly rotated secret is picked up
// on the next reconnect without a restart.
func NewKeyringProvider(service string, accounts map[string]Entry) Provider {
	return &keyringProvider{service: service, accounts: accounts}
}

func (p *keyringProvider) Lookup(account string) (imap.ConnectionConfig, error) {
	e, ok := p.accounts[account]
	if !ok {
		return imap.ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownAccount, account)
	}

	secret, err := Get(p.service, account)
	if err != nil {
		return imap.ConnectionConfig{}, err
	}

	return imap.ConnectionConfig{
		HostPort:  e.HostPort,
		Auth:      imap.NewNormalAuthenticator(e.Username, secret),
		TLS:       e.TLS,
		TLSConfig: e.TLSConfig,
		Debug:     e.Debug,
	}, nil
}
