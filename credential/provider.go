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
	"errors"
	"fmt"

	"mailsync/imap"
)

var ErrUnknownAccount = errors.New("credential: unknown account")

// Provider resolves an account identifier to connection parameters. The
// sync core borrows the result per operation and never stores it.
type Provider interface {
	Lookup(account string) (imap.ConnectionConfig, error)
}

// Static serves connection configs from a fixed map, typically built from
// the resolved configuration file.
type Static map[string]imap.ConnectionConfig

func (s Static) Lookup(account string) (imap.ConnectionConfig, error) {
	cfg, ok := s[account]
	if !ok {
		return imap.ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownAccount, account)
	}
	return cfg, nil
}

// Multi tries each provider in order, moving on while an account is
// unknown. Any other error stops the chain.
type Multi []Provider

func (m Multi) Lookup(account string) (imap.ConnectionConfig, error) {
	for _, p := range m {
		cfg, err := p.Lookup(account)
		if errors.Is(err, ErrUnknownAccount) {
			continue
		}
		return cfg, err
	}
	return imap.ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownAccount, account)
}
