// Copyright (c) 2026 labctld contributors
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
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package notify is the out-of-band notification contract (spec §6
// "Notifications"): failures here are logged, never fatal to the
// workflow that triggered them.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Situation enumerates the events the workflow notifies about.
type Situation string

const (
	SituationBookingCreated  Situation = "booking-created"
	SituationBookingFailed   Situation = "booking-failed"
	SituationBookingExpiring Situation = "booking-expiring"
	SituationBookingEnded    Situation = "booking-ended"
)

// BookingInfo is the payload passed to a Notifier.
type BookingInfo struct {
	AggregateID string
	Owner       string
	LabName     string
}

// Notifier is the external transport contract (SMTP/webhook), entirely
// out of this core's scope beyond this interface (spec §1 Non-goals).
type Notifier interface {
	Send(ctx context.Context, situation Situation, info BookingInfo) error
}

// LoggingNotifier is a fallback Notifier that only logs, for
// deployments that haven't wired a real transport yet and for tests.
type LoggingNotifier struct {
	Log zerolog.Logger
}

func (n LoggingNotifier) Send(ctx context.Context, situation Situation, info BookingInfo) error {
	n.Log.Info().
		Str("situation", string(situation)).
		Str("aggregate", info.AggregateID).
		Str("owner", info.Owner).
		Msg("notification")

	return nil
}
