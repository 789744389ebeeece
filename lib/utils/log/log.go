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

// Package log provides helpers around [log/slog] used across the codebase.
package log

import (
	"log/slog"
	"os"
)

// NewPackageLogger creates a [slog.Logger] from the default logger with the
// provided attributes attached, typically the component key and name of the
// package emitting the logs.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// Initialize configures the default slog logger to write text output at the
// given level. Servers call this once at startup.
func Initialize(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
