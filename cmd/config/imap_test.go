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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"

	"mailsync/imap"
	"mailsync/imap/mock"
)

func getTestIMAPConfig() IMAPConfig {
	cfg := DefaultIMAPConfig()
	cfg.URL = "imaps://imap.hostname.com:1234/INBOX"
	cfg.Username = "username"
	cfg.Password = "password"

	return cfg
}

func TestIMAPConfig_Resolve(t *testing.T) {
	t.Run("urls", func(t *testing.T) {
		t.Run("imaps_explicit_port", func(t *testing.T) {
			cfg := getTestIMAPConfig()

			connConfig, folder, err := cfg.Resolve("test")
			assert.NoError(t, err)
			assert.Equal(t, "imap.hostname.com:1234", connConfig.HostPort)
			assert.True(t, connConfig.TLS)
			assert.Equal(t, "INBOX", folder)
		})

		t.Run("imaps_default_port", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.URL = "imaps://imap.hostname.com/Archive"

			connConfig, folder, err := cfg.Resolve("test")
			assert.NoError(t, err)
			assert.Equal(t, "imap.hostname.com:993", connConfig.HostPort)
			assert.True(t, connConfig.TLS)
			assert.Equal(t, "Archive", folder)
		})

		t.Run("imap_default_port", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.URL = "imap://imap.hostname.com/"

			connConfig, folder, err := cfg.Resolve("test")
			assert.NoError(t, err)
			assert.Equal(t, "imap.hostname.com:143", connConfig.HostPort)
			assert.False(t, connConfig.TLS)
			assert.Equal(t, "", folder)
		})

		t.Run("invalid_scheme", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.URL = "https://imap.hostname.com/"

			_, _, err := cfg.Resolve("test")
			assert.ErrorIs(t, err, errInvalidScheme)
		})
	})

	t.Run("passwords", func(t *testing.T) {
		t.Run("password", func(t *testing.T) {
			cfg := getTestIMAPConfig()

			connConfig, _, err := cfg.Resolve("test")
			assert.NoError(t, err)
			assert.Equal(t, imap.ConnectionConfig{
				HostPort:  "imap.hostname.com:1234",
				Auth:      imap.NewNormalAuthenticator("username", "password"),
				TLS:       true,
				TLSConfig: nil,
				Debug:     false,
			}, connConfig)
		})

		t.Run("password_file", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.Password = ""
			cfg.PasswordFile = "testdata/testpass.txt"

			connConfig, _, err := cfg.Resolve("test")
			assert.NoError(t, err)
			assert.Equal(t, imap.ConnectionConfig{
				HostPort:  "imap.hostname.com:1234",
				Auth:      imap.NewNormalAuthenticator("username", "password"),
				TLS:       true,
				TLSConfig: nil,
				Debug:     false,
			}, connConfig)
		})

		t.Run("missing", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.Password = ""

			_, _, err := cfg.Resolve("test")
			assert.Error(t, err)
		})
	})

	t.Run("tls", func(t *testing.T) {
		cfg := getTestIMAPConfig()
		cfg.TLSSkipVerify = true

		connConfig, _, err := cfg.Resolve("test")
		assert.NoError(t, err)
		assert.Equal(t, &tls.Config{InsecureSkipVerify: true}, connConfig.TLSConfig)
	})

	t.Run("auth", func(t *testing.T) {
		t.Run("normal", func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockAuth := mock.NewMockAuthenticatable(ctrl)
			mockAuth.EXPECT().Login("username", "password")

			cfg := getTestIMAPConfig()

			connConfig, _, err := cfg.Resolve("test")
			if !assert.NoError(t, err) {
				t.FailNow()
			}

			assert.NoError(t, connConfig.Auth.Authenticate(mockAuth))
		})

		t.Run("plain", func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockAuth := mock.NewMockAuthenticatable(ctrl)
			mockAuth.EXPECT().Authenticate(gomock.Any()).DoAndReturn(func(c sasl.Client) error {
				mech, ir, err := c.Start()
				if err != nil {
					return err
				}

				assert.Equal(t, "PLAIN", mech)
				assert.Equal(t, []byte("\x00username\x00password"), ir)
				return nil
			})

			cfg := getTestIMAPConfig()
			cfg.AuthMethod = "PLAIN"

			connConfig, _, err := cfg.Resolve("test")
			if !assert.NoError(t, err) {
				t.FailNow()
			}

			assert.NoError(t, connConfig.Auth.Authenticate(mockAuth))
		})

		t.Run("oauthbearer", func(t *testing.T) {
			ctrl := gomock.NewController(t)

			tokenFile := filepath.Join(t.TempDir(), "token.json")
			raw, err := json.Marshal(&oauth2.Token{
				AccessToken: "the-access-token",
				TokenType:   "Bearer",
				Expiry:      time.Now().Add(time.Hour),
			})
			if !assert.NoError(t, err) {
				t.FailNow()
			}
			assert.NoError(t, os.WriteFile(tokenFile, raw, 0600))

			mockAuth := mock.NewMockAuthenticatable(ctrl)
			mockAuth.EXPECT().Authenticate(gomock.Any()).DoAndReturn(func(c sasl.Client) error {
				mech, ir, err := c.Start()
				if err != nil {
					return err
				}

				assert.Equal(t, "OAUTHBEARER", mech)
				assert.Contains(t, string(ir), "auth=Bearer the-access-token")
				return nil
			})

			cfg := getTestIMAPConfig()
			cfg.Password = ""
			cfg.AuthMethod = "OAUTHBEARER"
			cfg.TokenFile = tokenFile

			connConfig, _, err := cfg.Resolve("test")
			if !assert.NoError(t, err) {
				t.FailNow()
			}

			assert.NoError(t, connConfig.Auth.Authenticate(mockAuth))
		})

		t.Run("oauthbearer_requires_token_file", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.Password = ""
			cfg.AuthMethod = "OAUTHBEARER"

			_, _, err := cfg.Resolve("test")
			assert.Error(t, err)
		})

		t.Run("unsupported", func(t *testing.T) {
			cfg := getTestIMAPConfig()
			cfg.AuthMethod = "KERBEROS"

			_, _, err := cfg.Resolve("test")
			assert.Error(t, err)
		})
	})
}
