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

package mailbox

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMailbox_AckUnblocksWaiter(t *testing.T) {
	m := New("http://example.test", zerolog.Nop())
	token, _ := m.Issue()

	done := make(chan struct{})
	var gotBody []byte

	go func() {
		defer close(done)
		body, err := m.Wait(context.Background(), token, time.Second)
		require.NoError(t, err)
		gotBody = body
	}()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/mailbox/"+token, strings.NewReader("reached stage"))
	m.router.ServeHTTP(rec, req)
	require.Equal(t, 204, rec.Code)

	<-done
	require.Equal(t, "reached stage", string(gotBody))
}

func TestMailbox_SecondAckConflicts(t *testing.T) {
	m := New("http://example.test", zerolog.Nop())
	token, _ := m.Issue()

	go m.Wait(context.Background(), token, time.Second) //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	rec1 := httptest.NewRecorder()
	m.router.ServeHTTP(rec1, httptest.NewRequest("POST", "/mailbox/"+token, strings.NewReader("first")))
	require.Equal(t, 204, rec1.Code)

	rec2 := httptest.NewRecorder()
	m.router.ServeHTTP(rec2, httptest.NewRequest("POST", "/mailbox/"+token, strings.NewReader("second")))
	require.Equal(t, 409, rec2.Code)
}

func TestMailbox_WaitTimesOut(t *testing.T) {
	m := New("http://example.test", zerolog.Nop())
	token, _ := m.Issue()

	_, err := m.Wait(context.Background(), token, 10*time.Millisecond)
	require.Error(t, err)
}
