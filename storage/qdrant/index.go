package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

const (
	payloadDocIDKey   = "_kb_doc_id"
	payloadHashKey    = "_kb_content_hash"
	payloadKindKey    = "_kb_kind"
	payloadDomainKey  = "_kb_domain"
	payloadKeyPrefix  = "_kb_"
	maxErrorBodyBytes = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("6b0f3c1e-6f2a-5d7e-9a43-2e8c1d9b7f10")

// Index implements storage.VectorIndex over the Qdrant REST API. Qdrant
// point IDs must be UUIDs or integers, so each document ID is mapped to a
// name-based UUID and kept verbatim in the payload.
type Index struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ storage.VectorIndex = (*Index)(nil)

// Option is a functional option for configuring an Index.
type Option func(*Index)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(x *Index) {
		x.http = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) {
		x.logger = logger
	}
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type wirePoint struct {
	ID      json.RawMessage `json:"id"`
	Vector  []float32       `json:"vector,omitempty"`
	Payload map[string]any  `json:"payload,omitempty"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type scrollResult struct {
	Points         []wirePoint     `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

// New connects to Qdrant and verifies, or creates, the collection.
func New(ctx context.Context, cfg Config, opts ...Option) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	x := newIndex(cfg, opts...)
	if err := x.ensureCollection(ctx); err != nil {
		return nil, err
	}
	x.logger.Info("qdrant vector index selected",
		"url", x.baseURL, "collection", cfg.Collection, "vector_dim", cfg.VectorDim)
	return x, nil
}

func newIndex(cfg Config, opts ...Option) *Index {
	x := &Index{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = x.logger.With("component", "qdrant", "collection", cfg.Collection)
	return x
}

// Close releases idle connections.
func (x *Index) Close() error {
	x.http.CloseIdleConnections()
	return nil
}

func (x *Index) ensureCollection(ctx context.Context) error {
	const op = "ensure_collection"

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := x.doJSON(ctx, op, http.MethodGet, x.collectionPath(""), nil, &result)
	var opErrTyped *OperationError
	if errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusNotFound && x.cfg.CreateCollection {
		return x.createCollection(ctx)
	}
	if err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != x.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf("qdrant collection %q vector size mismatch: expected=%d actual=%d",
				x.cfg.Collection, x.cfg.VectorDim, size),
		}
	}
	if d := result.Config.Params.Vectors.Distance; d != "" && !strings.EqualFold(d, "cosine") {
		x.logger.Warn("collection distance is not cosine; scores will not be similarities", "distance", d)
	}
	return nil
}

func (x *Index) createCollection(ctx context.Context) error {
	const op = "create_collection"
	req := map[string]any{
		"vectors": map[string]any{"size": x.cfg.VectorDim, "distance": "Cosine"},
	}
	if err := x.doJSON(ctx, op, http.MethodPut, x.collectionPath(""), req, nil); err != nil {
		return err
	}
	for _, field := range []string{payloadKindKey, payloadDomainKey} {
		req := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := x.doJSON(ctx, op, http.MethodPut, x.collectionPath("/index?wait=true"), req, nil); err != nil {
			return err
		}
	}
	x.logger.Info("qdrant collection created")
	return nil
}

// UpsertPoints writes every point whose content hash differs from the
// stored one in a single request.
func (x *Index) UpsertPoints(ctx context.Context, points ...*storage.Point) ([]storage.Outcome, error) {
	const op = "upsert"
	outcomes := make([]storage.Outcome, len(points))
	var ids []core.DocID
	for i, p := range points {
		if p == nil || p.ID == "" {
			outcomes[i] = storage.Outcome{Status: storage.StatusFailed, Err: opErr(op, OperationErrorValidation, "point id is required", nil)}
			continue
		}
		outcomes[i].ID = p.ID
		switch {
		case len(p.Vector) == 0:
			outcomes[i].Status, outcomes[i].Err = storage.StatusFailed, storage.ErrEmptyVector
		case len(p.Vector) != x.cfg.VectorDim:
			outcomes[i].Status = storage.StatusFailed
			outcomes[i].Err = fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(p.Vector), x.cfg.VectorDim)
		default:
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return outcomes, nil
	}

	stored, err := x.LookupPoints(ctx, ids...)
	if err != nil {
		return storage.Failed(err, pointIDs(points)...), err
	}

	var wire []map[string]any
	var pending []int
	for i, p := range points {
		if outcomes[i].Status == storage.StatusFailed {
			continue
		}
		if h, ok := stored[p.ID]; ok && p.ContentHash != "" && h == p.ContentHash {
			outcomes[i].Status = storage.StatusUnchanged
			continue
		}
		wire = append(wire, map[string]any{
			"id":      pointID(p.ID),
			"vector":  p.Vector,
			"payload": buildPayload(p),
		})
		pending = append(pending, i)
	}
	if len(wire) == 0 {
		return outcomes, nil
	}

	req := map[string]any{"points": wire}
	if err := x.doJSON(ctx, op, http.MethodPut, x.collectionPath("/points?wait=true"), req, nil); err != nil {
		return storage.Failed(err, pointIDs(points)...), err
	}
	for _, i := range pending {
		outcomes[i].Status = storage.StatusWritten
	}
	return outcomes, nil
}

// DeletePoints removes points by document ID.
func (x *Index) DeletePoints(ctx context.Context, ids ...core.DocID) ([]storage.Outcome, error) {
	const op = "delete"
	outcomes := make([]storage.Outcome, len(ids))
	if len(ids) == 0 {
		return outcomes, nil
	}
	stored, err := x.LookupPoints(ctx, ids...)
	if err != nil {
		return storage.Failed(err, ids...), err
	}

	var targets []string
	for i, id := range ids {
		outcomes[i].ID = id
		if _, ok := stored[id]; !ok {
			outcomes[i].Status = storage.StatusNotFound
			continue
		}
		outcomes[i].Status = storage.StatusDeleted
		targets = append(targets, pointID(id))
	}
	if len(targets) == 0 {
		return outcomes, nil
	}

	req := map[string]any{"points": targets}
	if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

// ScanPoints scrolls through one scope. Pages follow Qdrant's point ID
// order and the cursor is Qdrant's next page offset.
func (x *Index) ScanPoints(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.KeyPage, error) {
	const op = "scroll"
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, storage.ErrInvalidCursor
		}
	}
	if limit <= 0 {
		limit = 500
	}
	req := map[string]any{
		"limit":        limit,
		"with_payload": []string{payloadDocIDKey, payloadHashKey},
		"with_vector":  false,
		"filter":       buildFilter(scope.Domain, []core.Kind{scope.Kind}),
	}
	if cursor != "" {
		req["offset"] = cursor
	}

	var result scrollResult
	if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/scroll"), req, &result); err != nil {
		return nil, err
	}
	page := &storage.KeyPage{Next: decodePointID(result.NextPageOffset)}
	for _, p := range result.Points {
		ref, ok := keyRef(p.Payload)
		if !ok {
			x.logger.Warn("point without document id", "point", decodePointID(p.ID))
			continue
		}
		page.Refs = append(page.Refs, ref)
	}
	return page, nil
}

// LookupPoints retrieves the content hashes of the stored points among ids.
func (x *Index) LookupPoints(ctx context.Context, ids ...core.DocID) (map[core.DocID]string, error) {
	const op = "retrieve"
	found := make(map[core.DocID]string, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	req := map[string]any{
		"ids":          pids,
		"with_payload": []string{payloadDocIDKey, payloadHashKey},
		"with_vector":  false,
	}
	var result []wirePoint
	if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points"), req, &result); err != nil {
		return nil, err
	}
	for _, p := range result {
		if ref, ok := keyRef(p.Payload); ok {
			found[ref.ID] = ref.ContentHash
		}
	}
	return found, nil
}

// Query runs a filtered similarity search.
func (x *Index) Query(ctx context.Context, vector []float32, filter storage.QueryFilter, limit int) ([]storage.Match, error) {
	const op = "query"
	if len(vector) == 0 {
		return nil, storage.ErrEmptyVector
	}
	if len(vector) != x.cfg.VectorDim {
		return nil, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vector), x.cfg.VectorDim)
	}
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := buildFilter(filter.Domain, filter.Kinds); f != nil {
		req["filter"] = f
	}
	if filter.MinScore > 0 {
		req["score_threshold"] = filter.MinScore
	}

	var raw []searchResultItem
	if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, err
	}
	out := make([]storage.Match, 0, len(raw))
	for _, item := range raw {
		ref, ok := keyRef(item.Payload)
		if !ok {
			continue
		}
		out = append(out, storage.Match{ID: ref.ID, Score: float32(item.Score), Payload: userPayload(item.Payload)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (x *Index) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.cfg.APIKey != "" {
		req.Header.Set("api-key", x.cfg.APIKey)
	}

	resp, err := x.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (x *Index) collectionPath(suffix string) string {
	return "/collections/" + x.cfg.Collection + suffix
}

func pointID(id core.DocID) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(id)).String()
}

func pointIDs(points []*storage.Point) []core.DocID {
	ids := make([]core.DocID, len(points))
	for i, p := range points {
		if p != nil {
			ids[i] = p.ID
		}
	}
	return ids
}

func buildPayload(p *storage.Point) map[string]any {
	payload := make(map[string]any, len(p.Payload)+4)
	for k, v := range p.Payload {
		payload[k] = v
	}
	kind, domain, _, _ := p.ID.Parts()
	payload[payloadDocIDKey] = string(p.ID)
	payload[payloadHashKey] = p.ContentHash
	payload[payloadKindKey] = string(kind)
	payload[payloadDomainKey] = string(domain)
	return payload
}

func buildFilter(domain core.Domain, kinds []core.Kind) map[string]any {
	var must []any
	if domain != "" {
		must = append(must, map[string]any{"key": payloadDomainKey, "match": map[string]any{"value": string(domain)}})
	}
	switch len(kinds) {
	case 0:
	case 1:
		must = append(must, map[string]any{"key": payloadKindKey, "match": map[string]any{"value": string(kinds[0])}})
	default:
		values := make([]string, len(kinds))
		for i, k := range kinds {
			values[i] = string(k)
		}
		must = append(must, map[string]any{"key": payloadKindKey, "match": map[string]any{"any": values}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func keyRef(payload map[string]any) (storage.KeyRef, bool) {
	id, _ := payload[payloadDocIDKey].(string)
	if strings.TrimSpace(id) == "" {
		return storage.KeyRef{}, false
	}
	hash, _ := payload[payloadHashKey].(string)
	return storage.KeyRef{ID: core.DocID(id), ContentHash: hash}, true
}

func userPayload(payload map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range payload {
		if strings.HasPrefix(k, payloadKeyPrefix) {
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}
