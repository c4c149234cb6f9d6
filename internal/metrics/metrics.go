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

// Package metrics wires the scheduler's queue depth, the allocator's
// open-allocation count, and the mailbox's pending-wait count into
// Prometheus gauges (spec §3 "Metrics"), following the
// otel/sdk/metric + otel/exporters/prometheus pairing the rest of the
// retrieval pack uses for OpenTelemetry (adapted from
// zjrosen-perles/internal/orchestration/tracing for the provider
// lifecycle shape, swapped to the metrics SDK).
package metrics

import (
	"context"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Sources is the set of gauge-producing collaborators the daemon polls
// on each Prometheus scrape.
type Sources struct {
	QueueDepth      func() int
	OpenAllocations func(ctx context.Context) (int, error)
	MailboxPending  func() int
}

// Provider owns the otel MeterProvider and its Prometheus reader. It
// registers one observable gauge per Sources field.
type Provider struct {
	mp *sdkmetric.MeterProvider
}

// NewProvider builds a Provider and registers its gauge callbacks.
// The returned Provider's Prometheus reader is attached to the default
// registry, so the caller only needs to mount promhttp.Handler().
func NewProvider(src Sources) (*Provider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter("labctld")

	queueDepth, err := meter.Int64ObservableGauge(
		"labctld_scheduler_queue_depth",
		metric.WithDescription("tasks runnable but not yet picked up by a worker"),
	)
	if err != nil {
		return nil, err
	}

	openAllocations, err := meter.Int64ObservableGauge(
		"labctld_allocator_open_allocations",
		metric.WithDescription("allocations currently open across all labs"),
	)
	if err != nil {
		return nil, err
	}

	mailboxPending, err := meter.Int64ObservableGauge(
		"labctld_mailbox_pending_waits",
		metric.WithDescription("mailbox tokens issued and not yet acked"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if src.QueueDepth != nil {
			o.ObserveInt64(queueDepth, int64(src.QueueDepth()))
		}
		if src.OpenAllocations != nil {
			if n, err := src.OpenAllocations(ctx); err == nil {
				o.ObserveInt64(openAllocations, int64(n))
			}
		}
		if src.MailboxPending != nil {
			o.ObserveInt64(mailboxPending, int64(src.MailboxPending()))
		}
		return nil
	}, queueDepth, openAllocations, mailboxPending)
	if err != nil {
		return nil, err
	}

	return &Provider{mp: mp}, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}
