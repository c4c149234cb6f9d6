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

// Package mailbox is the HTTP rendezvous point in-progress hosts call
// back to signal install milestones (spec §4 "Mailbox", §6 "Mailbox").
// Each endpoint is a unique, single-use URL issued to one host for one
// stage; the host POSTs once to acknowledge reaching it, and the
// workflow's waiting goroutine wakes with the POST body.
package mailbox

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ErrAlreadyDelivered is returned by a second POST to an already-acked
// token, preserving exactly-once delivery semantics from the host's
// perspective (spec §6: "Delivery is exactly-once").
var ErrAlreadyDelivered = errors.New("mailbox: token already delivered")

type pending struct {
	once sync.Once
	ch   chan []byte
}

// Mailbox is the HTTP listener and token-keyed rendezvous map.
type Mailbox struct {
	mu      sync.Mutex
	waiting map[string]*pending

	publicBaseURL string
	router        *mux.Router
	srv           *http.Server
	log           zerolog.Logger
}

// New builds a Mailbox whose issued URLs are rooted at publicBaseURL
// (e.g. "http://runtime.example.test:8089").
func New(publicBaseURL string, log zerolog.Logger) *Mailbox {
	m := &Mailbox{
		waiting:       make(map[string]*pending),
		publicBaseURL: publicBaseURL,
		router:        mux.NewRouter(),
		log:           log,
	}

	m.router.HandleFunc("/mailbox/{token}", m.handleAck).Methods(http.MethodPost)

	return m
}

// ListenAndServe starts the HTTP listener on addr; blocks until Close.
func (m *Mailbox) ListenAndServe(addr string) error {
	m.srv = &http.Server{Addr: addr, Handler: m.router}
	return m.srv.ListenAndServe()
}

// Close shuts down the HTTP listener.
func (m *Mailbox) Close(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}

// PendingWaits reports how many tokens are currently issued and not
// yet acked, for the metrics gauge (spec §3 "Metrics").
func (m *Mailbox) PendingWaits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// Issue mints a fresh single-use token and returns its full public
// URL. The caller embeds the URL into a rendered cloud-init/kickstart
// payload for exactly one host and one provisioning stage.
func (m *Mailbox) Issue() (token, url string) {
	token = hex.EncodeToString(uuid.New()[:])

	m.mu.Lock()
	m.waiting[token] = &pending{ch: make(chan []byte, 1)}
	m.mu.Unlock()

	return token, fmt.Sprintf("%s/mailbox/%s", m.publicBaseURL, token)
}

// Wait blocks until token is acked or ctx is done/timeout elapses,
// returning the POST body on success (spec §4.10 steps 3-4: "wait for
// the pre-image/post-image mailbox ping").
func (m *Mailbox) Wait(ctx context.Context, token string, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	p, ok := m.waiting[token]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("mailbox: unknown token %q", token)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case body := <-p.ch:
		return body, nil
	case <-timer.C:
		m.forget(token)
		return nil, fmt.Errorf("mailbox: token %q not acked within %s", token, timeout)
	case <-ctx.Done():
		m.forget(token)
		return nil, ctx.Err()
	}
}

func (m *Mailbox) forget(token string) {
	m.mu.Lock()
	delete(m.waiting, token)
	m.mu.Unlock()
}

func (m *Mailbox) handleAck(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	m.mu.Lock()
	p, ok := m.waiting[token]
	m.mu.Unlock()

	if !ok {
		http.Error(w, "unknown or already-consumed token", http.StatusGone)
		return
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))

	delivered := true
	p.once.Do(func() {
		delivered = false
		p.ch <- body
	})

	if delivered {
		http.Error(w, ErrAlreadyDelivered.Error(), http.StatusConflict)
		return
	}

	remote, _, _ := net.SplitHostPort(r.RemoteAddr)
	m.log.Info().Str("token", token).Str("from", remote).Msg("mailbox ack received")

	w.WriteHeader(http.StatusNoContent)
}
