// Copyright 2025 Poiesic Systems
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


package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMaxAttempts indicates maxAttempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrExhausted indicates every allowed attempt failed.
	ErrExhausted = errors.New("retries exhausted")

	// ErrTerminal indicates an operation on a Backoff in a terminal phase.
	ErrTerminal = errors.New("backoff is in a terminal phase")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked
// with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// exhausted wraps the last failure of an operation that ran out of attempts.
func exhausted(attempts int, last error) error {
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
