package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant serves the handful of endpoints the index uses from memory.
type fakeQdrant struct {
	mu        sync.Mutex
	exists    bool
	size      int
	points    map[string]fakePoint
	requests  []string
	failWrite bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{exists: true, size: 2, points: map[string]fakePoint{}}
}

func (f *fakeQdrant) roundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]json.RawMessage
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	route := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/collections/kb")
	f.requests = append(f.requests, route)

	switch route {
	case "GET ":
		if !f.exists {
			return respond(http.StatusNotFound, map[string]any{"status": map[string]any{"error": "not found"}}), nil
		}
		return ok(map[string]any{"config": map[string]any{"params": map[string]any{
			"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}}}), nil
	case "PUT ", "PUT /index":
		f.exists = true
		return ok(true), nil
	case "PUT /points":
		if f.failWrite {
			return respond(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"}), nil
		}
		var points []fakePoint
		_ = json.Unmarshal(body["points"], &points)
		for _, p := range points {
			f.points[p.ID] = p
		}
		return ok(map[string]any{"status": "acknowledged"}), nil
	case "POST /points":
		var ids []string
		_ = json.Unmarshal(body["ids"], &ids)
		var out []fakePoint
		for _, id := range ids {
			if p, found := f.points[id]; found {
				out = append(out, fakePoint{ID: p.ID, Payload: p.Payload})
			}
		}
		return ok(out), nil
	case "POST /points/delete":
		var ids []string
		_ = json.Unmarshal(body["points"], &ids)
		for _, id := range ids {
			delete(f.points, id)
		}
		return ok(map[string]any{"status": "acknowledged"}), nil
	case "POST /points/scroll":
		var limit int
		var offset string
		_ = json.Unmarshal(body["limit"], &limit)
		_ = json.Unmarshal(body["offset"], &offset)
		ids := f.sortedIDs()
		var page []fakePoint
		var next any
		for _, id := range ids {
			if offset != "" && id < offset {
				continue
			}
			if len(page) == limit {
				next = id
				break
			}
			page = append(page, fakePoint{ID: id, Payload: f.points[id].Payload})
		}
		return ok(map[string]any{"points": page, "next_page_offset": next}), nil
	case "POST /points/search":
		var vector []float32
		_ = json.Unmarshal(body["vector"], &vector)
		var out []map[string]any
		for _, id := range f.sortedIDs() {
			p := f.points[id]
			var score float32
			for i := range min(len(vector), len(p.Vector)) {
				score += vector[i] * p.Vector[i]
			}
			out = append(out, map[string]any{"id": id, "score": score, "payload": p.Payload})
		}
		return ok(out), nil
	}
	return respond(http.StatusNotFound, map[string]any{"status": map[string]any{"error": "no route " + route}}), nil
}

func (f *fakeQdrant) sortedIDs() []string {
	ids := make([]string, 0, len(f.points))
	for id := range f.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ok(result any) *http.Response {
	return respond(http.StatusOK, map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func respond(code int, payload any) *http.Response {
	raw, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: code,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func newTestIndex(t *testing.T, fake *fakeQdrant) *Index {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = "http://qdrant.local"
	cfg.Collection = "kb"
	cfg.VectorDim = 2
	x, err := New(context.Background(), cfg, WithHTTPClient(&http.Client{Transport: roundTripFunc(fake.roundTrip)}))
	require.NoError(t, err)
	return x
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	var cfgErr *ConfigError
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, ConfigErrorInvalidVectorDim, cfgErr.Code)

	cfg.VectorDim = 4
	assert.NoError(t, cfg.Validate())

	cfg.URL = "qdrant:6333"
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, ConfigErrorInvalidURL, cfgErr.Code)
}

func TestNew_CreatesMissingCollection(t *testing.T) {
	fake := newFakeQdrant()
	fake.exists = false
	newTestIndex(t, fake)
	assert.Equal(t, []string{"GET ", "PUT ", "PUT /index", "PUT /index"}, fake.requests)
}

func TestNew_RejectsSizeMismatch(t *testing.T) {
	fake := newFakeQdrant()
	fake.size = 3
	cfg := Config{URL: "http://qdrant.local", Collection: "kb", VectorDim: 2}
	_, err := New(context.Background(), cfg, WithHTTPClient(&http.Client{Transport: roundTripFunc(fake.roundTrip)}))
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OperationErrorValidation, opErr.Code)
}

func TestIndex_UpsertLookupDelete(t *testing.T) {
	fake := newFakeQdrant()
	x := newTestIndex(t, fake)
	ctx := context.Background()

	p := &storage.Point{ID: "problem/STR/STR_01_01", Vector: []float32{1, 0}, ContentHash: "h1",
		Payload: map[string]string{"name": "Work"}}
	outcomes, err := x.UpsertPoints(ctx, p, &storage.Point{ID: "problem/STR/STR_01_02", Vector: []float32{1}})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWritten, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[1].Err, storage.ErrDimensionMismatch)

	stored := fake.points[pointID(p.ID)]
	assert.Equal(t, "problem/STR/STR_01_01", stored.Payload[payloadDocIDKey])
	assert.Equal(t, "STR", stored.Payload[payloadDomainKey])

	outcomes, err = x.UpsertPoints(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusUnchanged, outcomes[0].Status)

	hashes, err := x.LookupPoints(ctx, p.ID, "problem/STR/STR_09_09")
	require.NoError(t, err)
	assert.Equal(t, map[core.DocID]string{p.ID: "h1"}, hashes)

	outcomes, err = x.DeletePoints(ctx, p.ID, "problem/STR/STR_09_09")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDeleted, outcomes[0].Status)
	assert.Equal(t, storage.StatusNotFound, outcomes[1].Status)
	assert.Empty(t, fake.points)
}

func TestIndex_WriteFailureFailsEveryPoint(t *testing.T) {
	fake := newFakeQdrant()
	x := newTestIndex(t, fake)
	fake.failWrite = true

	outcomes, err := x.UpsertPoints(context.Background(),
		&storage.Point{ID: "problem/STR/STR_01_01", Vector: []float32{1, 0}, ContentHash: "a"},
		&storage.Point{ID: "problem/STR/STR_01_02", Vector: []float32{0, 1}, ContentHash: "b"},
	)
	require.Error(t, err)
	for _, o := range outcomes {
		assert.False(t, o.OK())
	}
	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.True(t, opErr.Transient())
}

func TestIndex_ScanPages(t *testing.T) {
	fake := newFakeQdrant()
	x := newTestIndex(t, fake)
	ctx := context.Background()

	var points []*storage.Point
	for _, key := range []string{"STR_01_01", "STR_01_02", "STR_01_03"} {
		points = append(points, &storage.Point{ID: core.NewDocID(core.KindProblem, core.DomainStress, key),
			Vector: []float32{1, 0}, ContentHash: key})
	}
	_, err := x.UpsertPoints(ctx, points...)
	require.NoError(t, err)

	scope := core.Scope{Domain: core.DomainStress, Kind: core.KindProblem}
	seen := map[core.DocID]string{}
	cursor := ""
	for {
		page, err := x.ScanPoints(ctx, scope, cursor, 2)
		require.NoError(t, err)
		for _, ref := range page.Refs {
			seen[ref.ID] = ref.ContentHash
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, "STR_01_02", seen["problem/STR/STR_01_02"])

	_, err = x.ScanPoints(ctx, scope, "not-a-uuid", 2)
	assert.ErrorIs(t, err, storage.ErrInvalidCursor)
}

func TestIndex_Query(t *testing.T) {
	fake := newFakeQdrant()
	x := newTestIndex(t, fake)
	ctx := context.Background()

	_, err := x.UpsertPoints(ctx,
		&storage.Point{ID: "problem/STR/STR_01_01", Vector: []float32{1, 0}, ContentHash: "a", Payload: map[string]string{"name": "a"}},
		&storage.Point{ID: "problem/STR/STR_01_02", Vector: []float32{0, 1}, ContentHash: "b"},
	)
	require.NoError(t, err)

	matches, err := x.Query(ctx, []float32{1, 0}, storage.QueryFilter{Domain: core.DomainStress, Kinds: []core.Kind{core.KindProblem, core.KindSuggestion}}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, core.DocID("problem/STR/STR_01_01"), matches[0].ID)
	assert.Equal(t, map[string]string{"name": "a"}, matches[0].Payload)

	_, err = x.Query(ctx, []float32{1, 0, 0}, storage.QueryFilter{}, 5)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter("", nil))

	f := buildFilter(core.DomainSleep, []core.Kind{core.KindProblem, core.KindAssessment})
	must := f["must"].([]any)
	require.Len(t, must, 2)
	assert.Equal(t, map[string]any{"key": payloadDomainKey, "match": map[string]any{"value": "SLP"}}, must[0])
	assert.Equal(t, map[string]any{"key": payloadKindKey, "match": map[string]any{"any": []string{"problem", "assessment"}}}, must[1])
}
