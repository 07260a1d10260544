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


package source

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat indicates a source path that is not a workbook,
	// a CSV file or a directory of CSV files.
	ErrUnsupportedFormat = errors.New("unsupported source format")

	// ErrUnknownSheet indicates a sheet the schema does not map to a kind.
	ErrUnknownSheet = errors.New("unknown sheet")

	// ErrMissingColumn indicates a sheet without a column the schema requires.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmptySheet indicates a sheet without a header row.
	ErrEmptySheet = errors.New("sheet has no header row")
)

// SchemaError is a configuration problem with one source file. It is fatal
// for that file only.
type SchemaError struct {
	File  string
	Sheet string
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("schema error in %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("schema error in %s, sheet %q: %v", e.File, e.Sheet, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }
