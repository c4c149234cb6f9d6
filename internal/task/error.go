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

package task

import "fmt"

// Kind closes the set of ways a task attempt can end in failure, per
// spec §7. It is a type, not a string, so switches over it are exhaustive.
type Kind int

const (
	KindTimeout Kind = iota
	KindPanic
	KindReason
	KindChildFailed
	KindNotOwner
	KindNoneAvailable
	KindUnreachable
	KindDriver
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindPanic:
		return "panic"
	case KindReason:
		return "reason"
	case KindChildFailed:
		return "child-failed"
	case KindNotOwner:
		return "not-owner"
	case KindNoneAvailable:
		return "none-available"
	case KindUnreachable:
		return "unreachable"
	case KindDriver:
		return "driver"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a task's final failure outcome. ChildID/Inner are only
// populated for KindChildFailed, preserving the causal chain without
// unwrapping it (spec §7: "Parents surface child failures as
// child-failed without unwrapping").
type Error struct {
	Kind    Kind
	Message string
	ChildID string
	Inner   *Error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindChildFailed:
		return fmt.Sprintf("child %s failed: %s", e.ChildID, e.Inner)
	default:
		if e.Message == "" {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap lets errors.Is/As see through a child-failed wrapper to the
// inner cause while still preserving the wrapper itself in traces.
func (e *Error) Unwrap() error {
	if e.Inner == nil {
		return nil
	}
	return e.Inner
}

func Timeout() *Error {
	return &Error{Kind: KindTimeout, Message: "attempt exceeded its deadline"}
}

func Panicked(msg string) *Error {
	return &Error{Kind: KindPanic, Message: msg}
}

func Reason(format string, args ...any) *Error {
	return &Error{Kind: KindReason, Message: fmt.Sprintf(format, args...)}
}

func ChildFailed(childID string, inner *Error) *Error {
	return &Error{Kind: KindChildFailed, ChildID: childID, Inner: inner}
}

func NotOwner(msg string) *Error {
	return &Error{Kind: KindNotOwner, Message: msg}
}

func NoneAvailable(msg string) *Error {
	return &Error{Kind: KindNoneAvailable, Message: msg}
}

func Unreachable(msg string) *Error {
	return &Error{Kind: KindUnreachable, Message: msg}
}

func Driver(msg string) *Error {
	return &Error{Kind: KindDriver, Message: msg}
}

func Storage(msg string) *Error {
	return &Error{Kind: KindStorage, Message: msg}
}

// FromError wraps a plain Go error as a reason-kind task Error, unless it
// already is one.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return Reason("%s", err.Error())
}
