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

// Package pterr contains the page table error kinds as sentinel error
// pointers, for comparison with errors.Is.
package pterr

import (
	goerrors "errors"

	"gvisor.dev/pagetree/pkg/errors"
)

// The sentinel errors. Operations return errors carrying a more specific
// message; errors.Is matches them against these by kind.
var (
	ErrNotMapped = errors.New(errors.NotMapped, "not mapped")
	ErrConflict  = errors.New(errors.Conflict, "conflict")
)

// NotMappedf returns a NotMapped error with a formatted message.
func NotMappedf(format string, v ...any) *errors.Error {
	return errors.Newf(errors.NotMapped, format, v...)
}

// Conflictf returns a Conflict error with a formatted message.
func Conflictf(format string, v ...any) *errors.Error {
	return errors.Newf(errors.Conflict, format, v...)
}

// KindOf returns the kind of err, if err wraps an *errors.Error.
func KindOf(err error) (errors.Kind, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Kind(), true
	}
	return 0, false
}

// Equals returns true if err and other are both nil, or are both page table
// errors of the same kind.
func Equals(err, other error) bool {
	if err == nil || other == nil {
		return err == nil && other == nil
	}
	k1, ok1 := KindOf(err)
	k2, ok2 := KindOf(other)
	return ok1 && ok2 && k1 == k2
}
