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
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

type fileTokenSource struct {
	path string
}

// NewFileTokenSource returns a source that re-reads an oauth2.Token from
// a JSON file on every request. An external helper (oauth2-proxy,
// mail-oauth2 scripts, etc.) is expected to keep the file refreshed.
func NewFileTokenSource(path string) oauth2.TokenSource {
	return &fileTokenSource{path: path}
}

func (s *fileTokenSource) Token() (*oauth2.Token, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	tok := &oauth2.Token{}
	if err := json.Unmarshal(raw, tok); err != nil {
		return nil, fmt.Errorf("parsing token file %v: %w", s.path, err)
	}

	if tok.Expiry.IsZero() {
		tok.Expiry = peekExpiry(tok.AccessToken)
	}

	if !tok.Valid() {
		log.WithFields(log.Fields{
			"token_file": s.path,
			"expiry":     tok.Expiry,
		}).Warn("oauth2_token_expired")
	}

	return tok, nil
}

// peekExpiry pulls the exp claim out of a JWT access token without
// verifying it. Not all providers issue JWTs; a zero time means unknown.
func peekExpiry(accessToken string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}

	if claims.ExpiresAt == nil {
		return time.Time{}
	}

	return claims.ExpiresAt.Time
}
