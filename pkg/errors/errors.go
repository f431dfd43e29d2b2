// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors holds the standardized error definition for page table
// operations.
package errors

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies the outcome of a failed operation.
type Kind int

const (
	// NotMapped means no frame covers the address, or access to the frame
	// was denied by its attributes.
	NotMapped Kind = iota + 1

	// Conflict means the target slot is occupied, or is blocked by a frame
	// mapped at a shallower level.
	Conflict
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case NotMapped:
		return "NotMapped"
	case Conflict:
		return "Conflict"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Errno returns the errno conventionally reported for k: EFAULT for an
// unmapped address and EEXIST for an occupied slot.
func (k Kind) Errno() unix.Errno {
	switch k {
	case NotMapped:
		return unix.EFAULT
	case Conflict:
		return unix.EEXIST
	default:
		return unix.EINVAL
	}
}

// Error is a failed operation of a given kind with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Newf creates a new *Error with a formatted message.
func Newf(kind Kind, format string, v ...any) *Error {
	return New(kind, fmt.Sprintf(format, v...))
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the kind of the error.
func (e *Error) Kind() Kind { return e.kind }

// Errno returns the errno corresponding to the error's kind.
func (e *Error) Errno() unix.Errno { return e.kind.Errno() }

// Is implements the interface used by errors.Is: two *Errors match if they
// have the same kind, regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}
