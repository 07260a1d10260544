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


package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/kbsync/core"
)

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &doc, nil
}

// MarshalPoint serializes a Point to bytes.
func MarshalPoint(p *Point) []byte {
	size := ord.String.Size(string(p.ID)) + ord.String.Size(p.ContentHash) + varint.Int.Size(len(p.Vector))
	for _, f := range p.Vector {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	size += payloadSize(p.Payload)

	w := &writer{buf: make([]byte, size)}
	w.str(string(p.ID))
	w.str(p.ContentHash)
	w.int(len(p.Vector))
	for _, f := range p.Vector {
		w.n += varint.Uint32.Marshal(math.Float32bits(f), w.buf[w.n:])
	}
	w.payload(p.Payload)
	return w.buf
}

// UnmarshalPoint deserializes a Point from bytes.
func UnmarshalPoint(data []byte) (*Point, error) {
	r := &reader{data: data}
	p := &Point{ID: core.DocID(r.str()), ContentHash: r.str()}
	if dims := r.count(); dims > 0 {
		p.Vector = make([]float32, dims)
		for i := range p.Vector {
			p.Vector[i] = math.Float32frombits(r.uint32())
		}
	}
	p.Payload = r.payload()
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// MarshalPendingItem serializes a PendingItem to bytes.
func MarshalPendingItem(item *PendingItem) []byte {
	size := ord.String.Size(string(item.ID)) +
		ord.String.Size(string(item.Op)) +
		ord.String.Size(item.Reason) +
		varint.Int.Size(item.Attempts) +
		ord.String.Size(item.ContentHash) +
		varint.Int64.Size(unixNano(item.FirstSeen)) +
		varint.Int64.Size(unixNano(item.LastAttempt)) +
		varint.Int64.Size(unixNano(item.NextAttempt)) +
		ord.Bool.Size(item.Dead)

	w := &writer{buf: make([]byte, size)}
	w.str(string(item.ID))
	w.str(string(item.Op))
	w.str(item.Reason)
	w.int(item.Attempts)
	w.str(item.ContentHash)
	w.time(item.FirstSeen)
	w.time(item.LastAttempt)
	w.time(item.NextAttempt)
	w.n += ord.Bool.Marshal(item.Dead, w.buf[w.n:])
	return w.buf
}

// UnmarshalPendingItem deserializes a PendingItem from bytes.
func UnmarshalPendingItem(data []byte) (*PendingItem, error) {
	r := &reader{data: data}
	item := &PendingItem{
		ID:          core.DocID(r.str()),
		Op:          PendingOp(r.str()),
		Reason:      r.str(),
		Attempts:    r.int(),
		ContentHash: r.str(),
		FirstSeen:   r.time(),
		LastAttempt: r.time(),
		NextAttempt: r.time(),
		Dead:        r.bool(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return item, nil
}

// unixNano maps the zero time to 0 so it survives a round trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func payloadSize(m map[string]string) int {
	size := varint.Int.Size(len(m))
	for k, v := range m {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return size
}

type writer struct {
	buf []byte
	n   int
}

func (w *writer) str(s string) {
	w.n += ord.String.Marshal(s, w.buf[w.n:])
}

func (w *writer) int(i int) {
	w.n += varint.Int.Marshal(i, w.buf[w.n:])
}

func (w *writer) time(t time.Time) {
	w.n += varint.Int64.Marshal(unixNano(t), w.buf[w.n:])
}

func (w *writer) payload(m map[string]string) {
	w.int(len(m))
	for k, v := range m {
		w.str(k)
		w.str(v)
	}
}

// reader decodes fields in order and keeps the first error.
type reader struct {
	data []byte
	n    int
	err  error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	v, m, err := ord.String.Unmarshal(r.data[r.n:])
	r.n += m
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) int() int {
	if r.err != nil {
		return 0
	}
	v, m, err := varint.Int.Unmarshal(r.data[r.n:])
	r.n += m
	if err != nil {
		r.fail(err)
	}
	return v
}

// count reads a length and checks it against the remaining input.
func (r *reader) count() int {
	c := r.int()
	if c < 0 || c > len(r.data)-r.n {
		r.fail(ErrTruncatedData)
		return 0
	}
	return c
}

func (r *reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	v, m, err := varint.Uint32.Unmarshal(r.data[r.n:])
	r.n += m
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) time() time.Time {
	if r.err != nil {
		return time.Time{}
	}
	v, m, err := varint.Int64.Unmarshal(r.data[r.n:])
	r.n += m
	if err != nil {
		r.fail(err)
		return time.Time{}
	}
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func (r *reader) bool() bool {
	if r.err != nil {
		return false
	}
	v, m, err := ord.Bool.Unmarshal(r.data[r.n:])
	r.n += m
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) payload() map[string]string {
	c := r.count()
	if c == 0 {
		return nil
	}
	m := make(map[string]string, c)
	for range c {
		k := r.str()
		m[k] = r.str()
	}
	return m
}
