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

package sqlitestore

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_status (
	account      TEXT    NOT NULL,
	folder       TEXT    NOT NULL,
	uid_validity INTEGER NOT NULL,
	highest_uid  INTEGER NOT NULL,
	last_sync    TIMESTAMP NOT NULL,
	PRIMARY KEY (account, folder)
);

CREATE TABLE IF NOT EXISTS headers (
	account         TEXT    NOT NULL,
	folder          TEXT    NOT NULL,
	uid             INTEGER NOT NULL,
	uid_validity    INTEGER NOT NULL,
	subject         TEXT    NOT NULL,
	from_addrs      TEXT    NOT NULL,
	to_addrs        TEXT    NOT NULL,
	date            TIMESTAMP NOT NULL,
	flags           TEXT    NOT NULL,
	has_attachments INTEGER NOT NULL,
	has_body        INTEGER NOT NULL,
	PRIMARY KEY (account, folder, uid)
);

CREATE INDEX IF NOT EXISTS idx_headers_folder ON headers (account, folder);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
