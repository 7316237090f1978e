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

package sync

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"mailsync/cmd/config"
	"mailsync/imap/client"
	"mailsync/store/sqlitestore"
	"mailsync/syncer"
)

func RegisterCommand(app *cli.App) *cli.App {
	cfg := config.DefaultConfig()
	app.Commands = append(app.Commands, &cli.Command{
		Name:                   "sync",
		Usage:                  "Reconcile all configured accounts once and exit",
		Flags:                  cfg.Parameters(),
		UseShortOptionHandling: true,
		Before: func(context *cli.Context) error {
			return cfg.Resolve()
		},
		Action: func(context *cli.Context) error {
			return run(context, &cfg)
		},
	})
	return app
}

func run(_ *cli.Context, cfg *config.Configuration) error {
	logLevel, err := log.ParseLevel(cfg.LogLevel)
	if err == nil {
		log.SetLevel(logLevel)
	}

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	db, err := sqlitestore.NewSQLiteStore(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	sync := syncer.NewSyncer(&syncer.Config{
		Store:       db,
		Credentials: cfg.ResolvedCredentials,
		Factory:     &client.Factory{},
		BatchSize:   cfg.BatchSize,
	})

	var lastErr error
	for name := range cfg.Accounts {
		folders := cfg.ResolvedFolders[name]
		if len(folders) == 0 {
			folders = []string{"INBOX"}
		}

		for _, folder := range folders {
			e := log.WithFields(log.Fields{"account": name, "folder": folder})

			headers, err := sync.Reconcile(name, folder)
			if err != nil {
				e.WithError(err).Error("reconcile_failed")
				lastErr = err
				continue
			}

			changed, err := sync.ReconcileFlags(name, folder)
			if err != nil {
				e.WithError(err).Error("reconcile_flags_failed")
				lastErr = err
				continue
			}

			e.WithFields(log.Fields{
				"new_headers":   len(headers),
				"flags_changed": changed,
			}).Info("folder_synced")
		}
	}

	return lastErr
}
