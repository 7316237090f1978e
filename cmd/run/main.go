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

package run

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"mailsync/cmd/config"
	"mailsync/event"
	"mailsync/imap/client"
	"mailsync/multiwatch"
	"mailsync/store/sqlitestore"
	"mailsync/syncer"
)

func RegisterCommand(app *cli.App) *cli.App {
	cfg := config.DefaultConfig()
	app.Commands = append(app.Commands, &cli.Command{
		Name:                   "run",
		Usage:                  "Monitor the configured accounts for changes",
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

	log.WithFields(log.Fields{
		"config":               cfg.ConfigPath,
		"database":             cfg.Database,
		"accounts":             len(cfg.Accounts),
		"log_level":            cfg.LogLevel,
		"log_format":           cfg.LogFormat,
		"batch_size":           cfg.BatchSize,
		"poll_interval":        cfg.PollInterval,
		"max_idle_time":        cfg.MaxIdleTime,
		"max_sync_interval":    cfg.MaxSyncInterval,
		"reconnect_delay":      cfg.ReconnectDelay,
		"max_cycles":           cfg.MaxCycles,
		"sessions_per_account": cfg.SessionsPerAccount,
	}).Info("starting")

	db, err := sqlitestore.NewSQLiteStore(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	sink := event.NewChannelSink(64)
	go logEvents(sink)

	sync := syncer.NewSyncer(&syncer.Config{
		Store:       db,
		Credentials: cfg.ResolvedCredentials,
		Factory:     &client.Factory{},
		Sink:        sink,
		BatchSize:   cfg.BatchSize,
	})

	manager := multiwatch.NewManager(&multiwatch.Config{
		Credentials:        cfg.ResolvedCredentials,
		Factory:            &client.Factory{},
		Syncer:             sync,
		Sink:               sink,
		AccountFolders:     func(account string) []string { return cfg.ResolvedFolders[account] },
		SessionsPerAccount: cfg.SessionsPerAccount,
		ReconnectDelay:     cfg.ReconnectDelay,
		MaxIdleTime:        cfg.MaxIdleTime,
		PollInterval:       cfg.PollInterval,
		MaxSyncInterval:    cfg.MaxSyncInterval,
		MaxCycles:          cfg.MaxCycles,
	})
	defer manager.Close()

	for name := range cfg.Accounts {
		if err := manager.StartAccount(name); err != nil {
			log.WithError(err).WithField("account", name).Error("account_start_failed")
		}
	}

	sigchan := make(chan os.Signal, 10)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	sigcount := 0
	for {
		sig := <-sigchan
		log.WithFields(log.Fields{"signal": sig, "count": sigcount}).Trace("caught_signal")

		sigcount += 1
		if sigcount > 1 {
			log.WithFields(log.Fields{"signal": sig}).Warn("received_interrupt_force_exit")
			os.Exit(1)
		}
		log.WithFields(log.Fields{"signal": sig}).Info("received_interrupt")

		if err := manager.Close(); err != nil {
			return err
		}

		log.Info("manager_terminated")
		return nil
	}
}

func logEvents(sink *event.ChannelSink) {
	for ev := range sink.C {
		log.WithFields(log.Fields{
			"kind":    ev.Kind,
			"account": ev.Account,
			"folder":  ev.Folder,
			"uid":     ev.UID,
			"count":   ev.Count,
		}).Info("mailbox_event")
	}
}
