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

package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/emersion/go-sasl"

	"mailsync/credential"
	"mailsync/imap"
)

func DefaultIMAPConfig() IMAPConfig {
	return IMAPConfig{
		AuthMethod:    "normal",
		TLSSkipVerify: false,
		Debug:         false,
	}
}

func extractUrl(u *url.URL) (string, string, bool, error) {
	var defaultPort string
	var useTLS bool
	switch strings.ToLower(u.Scheme) {
	case "imap":
		defaultPort = "143"
		useTLS = false
	case "imaps":
		defaultPort = "993"
		useTLS = true
	default:
		return "", "", false, errInvalidScheme
	}

	host := u.Hostname()
	port := u.Port()

	if port == "" {
		port = defaultPort
	}

	return net.JoinHostPort(host, port), strings.TrimPrefix(u.Path, "/"), useTLS, nil
}

func (cfg *IMAPConfig) validateUserPass(name string) (string, string, error) {
	if cfg.Username == "" {
		return "", "", fmt.Errorf("account %q: username is required when using %v auth", name, cfg.AuthMethod)
	}

	var password string
	username := cfg.Username

	if cfg.Password != "" {
		password = cfg.Password
	} else if cfg.PasswordFile != "" {
		pass, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return "", "", err
		}

		password = strings.TrimSpace(string(pass))
	} else {
		return "", "", fmt.Errorf("account %q: one of password or password_file is required", name)
	}

	return username, password, nil
}

// Resolve turns the raw config into connection parameters. The second
// return value is the folder from the URL's path component, which may be
// empty.
func (cfg *IMAPConfig) Resolve(name string) (imap.ConnectionConfig, string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return imap.ConnectionConfig{}, "", err
	}

	hostPort, folder, wantTLS, err := extractUrl(u)
	if err != nil {
		return imap.ConnectionConfig{}, "", err
	}

	connConfig := imap.ConnectionConfig{
		HostPort: hostPort,
		TLS:      wantTLS,
		Debug:    cfg.Debug,
	}

	if cfg.TLSSkipVerify {
		// #nosec G402
		connConfig.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	switch strings.ToUpper(cfg.AuthMethod) {
	case "", "NORMAL":
		user, pass, err := cfg.validateUserPass(name)
		if err != nil {
			return imap.ConnectionConfig{}, "", err
		}

		connConfig.Auth = imap.NewNormalAuthenticator(user, pass)
	case sasl.Plain:
		user, pass, err := cfg.validateUserPass(name)
		if err != nil {
			return imap.ConnectionConfig{}, "", err
		}

		connConfig.Auth = imap.NewSASLAuthenticator(sasl.NewPlainClient("", user, pass))
	case sasl.OAuthBearer:
		if cfg.Username == "" {
			return imap.ConnectionConfig{}, "", fmt.Errorf("account %q: username is required when using %v auth", name, cfg.AuthMethod)
		}

		if cfg.TokenFile == "" {
			return imap.ConnectionConfig{}, "", fmt.Errorf("account %q: token_file is required when using %v auth", name, cfg.AuthMethod)
		}

		connConfig.Auth = imap.NewOAuthBearerAuthenticator(cfg.Username, NewFileTokenSource(cfg.TokenFile))
	default:
		return imap.ConnectionConfig{}, "", fmt.Errorf("account %q: unsupported auth method: %v", name, cfg.AuthMethod)
	}

	return connConfig, folder, nil
}

// resolveKeyringEntry is the keyring-backed variant of Resolve; the
// password is deliberately left out so it can be fetched at connect time.
func (cfg *IMAPConfig) resolveKeyringEntry(name string) (credential.Entry, string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return credential.Entry{}, "", err
	}

	hostPort, folder, wantTLS, err := extractUrl(u)
	if err != nil {
		return credential.Entry{}, "", err
	}

	if cfg.Username == "" {
		return credential.Entry{}, "", fmt.Errorf("account %q: username is required", name)
	}

	e := credential.Entry{
		HostPort: hostPort,
		Username: cfg.Username,
		TLS:      wantTLS,
		Debug:    cfg.Debug,
	}

	if cfg.TLSSkipVerify {
		// #nosec G402
		e.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return e, folder, nil
}
