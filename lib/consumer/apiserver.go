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

package consumer

import (
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/mpcoord/lib/httplib"
)

// APIServer serves the consumer-facing HTTP API.
type APIServer struct {
	httprouter.Router
	cache *Cache
}

// NewAPIServer creates a consumer API server over the given cache.
func NewAPIServer(cache *Cache) (*APIServer, error) {
	if cache == nil {
		return nil, trace.BadParameter("missing cache")
	}
	srv := &APIServer{cache: cache}
	srv.GET("/query-computation", srv.queryComputation)
	return srv, nil
}

func (s *APIServer) queryComputation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	result, err := s.cache.Get(r.Context())
	if err != nil {
		// an initializing cache is reported as service unavailable, not
		// through the generic error mapping
		if trace.IsConnectionProblem(err) {
			roundtrip.ReplyJSON(w, http.StatusServiceUnavailable,
				map[string]any{"detail": trace.UserMessage(err)})
			return
		}
		httplib.ReplyError(w, err)
		return
	}
	roundtrip.ReplyJSON(w, http.StatusOK, result)
}
