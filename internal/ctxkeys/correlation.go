// vsmanager is a control-plane daemon for a co-located game server.
// Copyright (C) 2026 vsmanager contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// GetCorrelationID returns the correlation ID string from context if present, else "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(CorrelationID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithCorrelationID returns a child context with the provided correlation ID stored.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns a context that contains a correlation ID and the value itself.
// If absent on the input context, it generates a new v4-style ID.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := generateCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// generateCorrelationID creates a random v4 UUID string.
func generateCorrelationID() string {
	return uuid.NewString()
}
