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
	"errors"
	"time"

	"mailsync/credential"
)

var (
	errInvalidScheme = errors.New("invalid uri scheme")
)

// IMAPConfig is the per-account connection half of the configuration
// file. Exactly one of Password, PasswordFile, TokenFile or UseKeyring
// supplies the secret.
type IMAPConfig struct {
	URL           string `json:"url"`
	AuthMethod    string `json:"auth_method,omitempty"`
	Username      string `json:"username"`
	Password      string `json:"-"`
	PasswordFile  string `json:"password_file,omitempty"`
	TokenFile     string `json:"token_file,omitempty"`
	UseKeyring    bool   `json:"use_keyring,omitempty"`
	TLSSkipVerify bool   `json:"tls_skip_verify,omitempty"`
	Debug         bool   `json:"debug,omitempty"`
}

type Account struct {
	Connection IMAPConfig `json:"connection"`

	// Folders to monitor. Defaults to the URL's path component, or INBOX.
	Folders []string `json:"folders,omitempty"`
}

type Configuration struct {
	ConfigPath string `json:"-"`

	Accounts       map[string]*Account `json:"accounts,omitempty"`
	Database       string              `json:"database,omitempty"`
	KeyringService string              `json:"keyring_service,omitempty"`
	LogLevel       string              `json:"log_level,omitempty"`
	LogFormat      string              `json:"log_format,omitempty"`

	BatchSize          uint          `json:"batch_size,omitempty"`
	PollInterval       time.Duration `json:"poll_interval,omitempty"`
	MaxIdleTime        time.Duration `json:"max_idle_time,omitempty"`
	MaxSyncInterval    time.Duration `json:"max_sync_interval,omitempty"`
	ReconnectDelay     time.Duration `json:"reconnect_delay,omitempty"`
	MaxCycles          uint          `json:"max_cycles,omitempty"`
	SessionsPerAccount uint          `json:"sessions_per_account,omitempty"`

	ResolvedCredentials credential.Provider `json:"-"`
	ResolvedFolders     map[string][]string `json:"-"`
}
