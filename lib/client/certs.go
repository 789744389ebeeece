/*
 * mpcoord
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package client

import (
	"context"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"
)

// PartyEndpoint locates one party server.
type PartyEndpoint struct {
	// PartyID is the party's index in the cluster.
	PartyID int
	// Addr is the party server base URL, e.g. "http://party1:8007".
	Addr string
}

// FetchPartyCerts fetches every party's public certificate concurrently.
// The result is indexed by party ID. A party returning a certificate under
// a different party ID than the one it is addressed as fails the whole
// fetch.
func FetchPartyCerts(ctx context.Context, apiKey string, parties []PartyEndpoint) ([]string, error) {
	certs := make([]string, len(parties))
	group, gctx := errgroup.WithContext(ctx)
	for i, party := range parties {
		group.Go(func() error {
			clt, err := NewPartyClient(party.Addr, apiKey)
			if err != nil {
				return trace.Wrap(err)
			}
			resp, err := clt.GetPartyCert(gctx)
			if err != nil {
				return trace.Wrap(err, "fetching certificate of party %v", party.PartyID)
			}
			if resp.PartyID != party.PartyID {
				return trace.BadParameter("party at %v returned certificate for party %v, expected %v",
					party.Addr, resp.PartyID, party.PartyID)
			}
			log.DebugContext(gctx, "Fetched party certificate", "party_id", party.PartyID)
			certs[i] = resp.CertFile
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	return certs, nil
}
