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

// Package httplib implements common utility functions for writing
// classic HTTP handlers
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// maxBodyBytes bounds request bodies; notarization proofs run to a few
// megabytes, nothing legitimate is larger.
const maxBodyBytes = 16 * 1024 * 1024

// HandlerFunc specifies HTTP handler function that returns error
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler returns a new httprouter.Handle func from a handler func
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out == nil {
			out = struct{}{}
		}
		roundtrip.ReplyJSON(w, http.StatusOK, out)
	}
}

// WithAPIKey wraps a handler with a check of the shared API key header
// against the supplied key. Requests with a missing or wrong key are
// rejected before the handler runs.
func WithAPIKey(header, key string, fn HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		if r.Header.Get(header) != key {
			return nil, trace.AccessDenied("missing or invalid API key")
		}
		return fn(w, r, p)
	}
}

// ReadJSON reads HTTP json request and unmarshals it
// into passed any obj
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, &val); err != nil {
		return trace.BadParameter("request: %v", err)
	}
	return nil
}

// ReplyError sets up http error response and writes it to writer w
func ReplyError(w http.ResponseWriter, err error) {
	message := trace.UserMessage(err)
	roundtrip.ReplyJSON(w, trace.ErrorToCode(err), map[string]any{"detail": message})
}
