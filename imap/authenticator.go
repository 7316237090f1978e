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

package imap

import (
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

// Authenticatable is the login surface of a raw connection.
// *client.Client satisfies it.
type Authenticatable interface {
	Login(username, password string) error
	Authenticate(client sasl.Client) error
}

// Authenticator performs the login step on a freshly-dialled connection.
type Authenticator interface {
	Authenticate(c Authenticatable) error
}

type plainAuthenticator struct {
	username string
	password string
}

func NewNormalAuthenticator(username string, password string) *plainAuthenticator {
	return &plainAuthenticator{username: username, password: password}
}

func (a *plainAuthenticator) Authenticate(c Authenticatable) error {
	return c.Login(a.username, a.password)
}

type saslAuthenticator struct {
	client sasl.Client
}

func NewSASLAuthenticator(client sasl.Client) *saslAuthenticator {
	return &saslAuthenticator{client: client}
}

func (a *saslAuthenticator) Authenticate(c Authenticatable) error {
	return c.Authenticate(a.client)
}

type oauthBearerAuthenticator struct {
	username string
	source   oauth2.TokenSource
}

// NewOAuthBearerAuthenticator authenticates via OAUTHBEARER, requesting a
// fresh token from the source on every attempt. Wrap the source with
// oauth2.ReuseTokenSource to get caching and refresh.
func NewOAuthBearerAuthenticator(username string, source oauth2.TokenSource) *oauthBearerAuthenticator {
	return &oauthBearerAuthenticator{username: username, source: source}
}

func (a *oauthBearerAuthenticator) Authenticate(c Authenticatable) error {
	tok, err := a.source.Token()
	if err != nil {
		return err
	}

	return c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: a.username,
		Token:    tok.AccessToken,
	}))
}
