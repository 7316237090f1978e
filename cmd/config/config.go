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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"mailsync/credential"
	"mailsync/imap"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultDatabase  = "mailsync.db"

	DefaultBatchSize          = 100
	DefaultPollInterval       = time.Minute
	DefaultMaxIdleTime        = 250 * time.Second
	DefaultMaxSyncInterval    = 15 * time.Minute
	DefaultReconnectDelay     = 2 * time.Second
	DefaultMaxCycles          = 64
	DefaultSessionsPerAccount = 1
)

func DefaultConfig() Configuration {
	return Configuration{
		ConfigPath:         "config.json",
		Database:           DefaultDatabase,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
		BatchSize:          DefaultBatchSize,
		PollInterval:       DefaultPollInterval,
		MaxIdleTime:        DefaultMaxIdleTime,
		MaxSyncInterval:    DefaultMaxSyncInterval,
		ReconnectDelay:     DefaultReconnectDelay,
		MaxCycles:          DefaultMaxCycles,
		SessionsPerAccount: DefaultSessionsPerAccount,
	}
}

func (cfg *Configuration) Parameters() []cli.Flag {
	def := DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to configuration file, or '-' to read from stdin",
			EnvVars:     []string{"MAILSYNC_CONFIG"},
			Value:       def.ConfigPath,
			Destination: &cfg.ConfigPath,
		},
		&cli.StringFlag{
			Name:        "database",
			Usage:       "path to the local header cache database",
			EnvVars:     []string{"MAILSYNC_DATABASE"},
			Value:       def.Database,
			Destination: &cfg.Database,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "logging level",
			EnvVars:     []string{"MAILSYNC_LOG_LEVEL"},
			Value:       def.LogLevel,
			Destination: &cfg.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "logging format (text/json)",
			EnvVars:     []string{"MAILSYNC_LOG_FORMAT"},
			Value:       def.LogFormat,
			Destination: &cfg.LogFormat,
		},
		&cli.UintFlag{
			Name:        "batch-size",
			Usage:       "header fetch batch size",
			EnvVars:     []string{"MAILSYNC_BATCH_SIZE"},
			Value:       def.BatchSize,
			Destination: &cfg.BatchSize,
		},
		&cli.DurationFlag{
			Name:        "poll-interval",
			Usage:       "fallback poll interval while idling",
			EnvVars:     []string{"MAILSYNC_POLL_INTERVAL"},
			Value:       def.PollInterval,
			Destination: &cfg.PollInterval,
		},
		&cli.DurationFlag{
			Name:        "max-idle-time",
			Usage:       "maximum duration of a single IDLE command",
			EnvVars:     []string{"MAILSYNC_MAX_IDLE_TIME"},
			Value:       def.MaxIdleTime,
			Destination: &cfg.MaxIdleTime,
		},
		&cli.DurationFlag{
			Name:        "max-sync-interval",
			Usage:       "maximum time between reconciles of a monitored folder",
			EnvVars:     []string{"MAILSYNC_MAX_SYNC_INTERVAL"},
			Value:       def.MaxSyncInterval,
			Destination: &cfg.MaxSyncInterval,
		},
		&cli.DurationFlag{
			Name:        "reconnect-delay",
			Usage:       "delay before reconnecting a lost session",
			EnvVars:     []string{"MAILSYNC_RECONNECT_DELAY"},
			Value:       def.ReconnectDelay,
			Destination: &cfg.ReconnectDelay,
		},
		&cli.UintFlag{
			Name:        "max-cycles",
			Usage:       "IDLE cycles before a preventive reconnect",
			EnvVars:     []string{"MAILSYNC_MAX_CYCLES"},
			Value:       def.MaxCycles,
			Destination: &cfg.MaxCycles,
		},
		&cli.UintFlag{
			Name:        "sessions-per-account",
			Usage:       "maximum concurrent push sessions per account",
			EnvVars:     []string{"MAILSYNC_SESSIONS_PER_ACCOUNT"},
			Value:       def.SessionsPerAccount,
			Destination: &cfg.SessionsPerAccount,
		},
	}
}

// Resolve reads the configuration file and builds the credential provider
// and per-account folder lists.
func (cfg *Configuration) Resolve() error {
	var err error
	var raw []byte

	if cfg.ConfigPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(cfg.ConfigPath)
	}

	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, cfg); err != nil {
		return err
	}

	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	static := credential.Static{}
	keyringEntries := map[string]credential.Entry{}
	cfg.ResolvedFolders = map[string][]string{}

	for name, acc := range cfg.Accounts {
		var folder string

		if acc.Connection.UseKeyring {
			var e credential.Entry
			e, folder, err = acc.Connection.resolveKeyringEntry(name)
			if err != nil {
				return err
			}
			keyringEntries[name] = e
		} else {
			var connConfig imap.ConnectionConfig
			connConfig, folder, err = acc.Connection.Resolve(name)
			if err != nil {
				return err
			}
			static[name] = connConfig
		}

		folders := acc.Folders
		if len(folders) == 0 && folder != "" {
			folders = []string{folder}
		}
		cfg.ResolvedFolders[name] = folders
	}

	providers := credential.Multi{static}
	if len(keyringEntries) > 0 {
		providers = append(providers, credential.NewKeyringProvider(cfg.KeyringService, keyringEntries))
	}
	cfg.ResolvedCredentials = providers

	return nil
}
