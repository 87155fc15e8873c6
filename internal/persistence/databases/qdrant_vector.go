package databases

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant only allows UUIDs and positive integers as point IDs. So non-UUID
// caller ids are mapped to a deterministic UUID and the original id is
// preserved in the payload under this field.
const PAYLOAD_ID_FIELD = "_original_id"

// retryDelays implements spec.md §4.8/§7's store retry policy: up to 3
// retries after the first attempt (4 attempts in all), with exponential
// backoff (100ms, 500ms, 2s).
var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

type qdrantVector struct {
	client *qdrant.Client
}

// NewQdrantVector dials Qdrant's gRPC API (default port 6334). An optional
// "api_key" query parameter on dsn is used for authentication, e.g.
// "http://localhost:6334?api_key=secret".
func NewQdrantVector(dsn string) (VectorStore, error) {
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	config := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		config.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		config.APIKey = apiKey
	}
	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	return &qdrantVector{client: client}, nil
}

func toDistance(metric string) qdrant.Distance {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *qdrantVector) EnsureCollection(ctx context.Context, collection string, dimension int, metric string) error {
	if collection == "" {
		return fmt.Errorf("collection name is required")
	}
	if dimension <= 0 {
		return fmt.Errorf("qdrant requires dimension > 0")
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: toDistance(metric),
		}),
		OnDiskPayload: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (q *qdrantVector) EnsurePayloadIndexes(ctx context.Context, collection string, indexes PayloadIndexes) error {
	for field, kind := range indexes {
		var fieldType qdrant.FieldType
		switch kind {
		case "integer":
			fieldType = qdrant.FieldType_FieldTypeInteger
		default:
			fieldType = qdrant.FieldType_FieldTypeKeyword
		}
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      &fieldType,
		})
		if err != nil {
			return fmt.Errorf("ensure payload index %s: %w", field, err)
		}
	}
	return nil
}

func pointIDFor(id string) (*qdrant.PointId, string) {
	uuidStr := id
	if _, err := uuid.Parse(id); err != nil {
		uuidStr = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	}
	return qdrant.NewIDUUID(uuidStr), uuidStr
}

func toPayload(id, uuidStr string, payload map[string]any) map[string]*qdrant.Value {
	m := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		m[k] = v
	}
	if uuidStr != id {
		m[PAYLOAD_ID_FIELD] = id
	}
	return qdrant.NewValueMap(m)
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	default:
		return v.GetBoolValue()
	}
}

func toQdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter.Must) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter.Must))
	for _, c := range filter.Must {
		if c.Range != nil {
			must = append(must, qdrant.NewRange(c.Key, &qdrant.Range{Gte: c.Range.Gte, Lte: c.Range.Lte}))
			continue
		}
		switch val := c.Match.(type) {
		case int:
			must = append(must, qdrant.NewMatchInt(c.Key, int64(val)))
		case int64:
			must = append(must, qdrant.NewMatchInt(c.Key, val))
		case bool:
			must = append(must, qdrant.NewMatchBool(c.Key, val))
		default:
			must = append(must, qdrant.NewMatch(c.Key, fmt.Sprintf("%v", val)))
		}
	}
	return &qdrant.Filter{Must: must}
}

func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == len(retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
	return err
}

// upsertBatchSize bounds a single Qdrant RPC; larger books are chunked.
const upsertBatchSize = 256

func (q *qdrantVector) Upsert(ctx context.Context, collection string, points []Point) error {
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		batch := points[start:end]
		pbPoints := make([]*qdrant.PointStruct, 0, len(batch))
		for _, p := range batch {
			pointID, uuidStr := pointIDFor(p.ID)
			vec := make([]float32, len(p.Vector))
			copy(vec, p.Vector)
			pbPoints = append(pbPoints, &qdrant.PointStruct{
				Id:      pointID,
				Vectors: qdrant.NewVectorsDense(vec),
				Payload: toPayload(p.ID, uuidStr, p.Payload),
			})
		}
		err := withRetry(ctx, func() error {
			_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: pbPoints})
			return err
		})
		if err != nil {
			return fmt.Errorf("upsert batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func (q *qdrantVector) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	qf := toQdrantFilter(filter)
	if qf == nil {
		return fmt.Errorf("delete_by_filter requires a non-empty filter")
	}
	return withRetry(ctx, func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelectorFilter(qf),
		})
		return err
	})
}

func (q *qdrantVector) Search(ctx context.Context, collection string, vector []float32, filter Filter, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limitU := uint64(limit)
	var hits []*qdrant.ScoredPoint
	err := withRetry(ctx, func() error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQueryDense(vec),
			Limit:          &limitU,
			Filter:         toQdrantFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		hits = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		payload := fromPayload(hit.Payload)
		id := resolveID(hit.Id, payload)
		out = append(out, SearchHit{ID: id, Score: float64(hit.Score), Payload: payload})
	}
	return out, nil
}

func resolveID(pointID *qdrant.PointId, payload map[string]any) string {
	if orig, ok := payload[PAYLOAD_ID_FIELD].(string); ok && orig != "" {
		delete(payload, PAYLOAD_ID_FIELD)
		return orig
	}
	if pointID == nil {
		return ""
	}
	if u := pointID.GetUuid(); u != "" {
		return u
	}
	return pointID.String()
}

func (q *qdrantVector) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byUUID := make(map[string]string, len(ids))
	pbIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointID, uuidStr := pointIDFor(id)
		byUUID[uuidStr] = id
		pbIDs = append(pbIDs, pointID)
	}
	var records []*qdrant.RetrievedPoint
	err := withRetry(ctx, func() error {
		res, err := q.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pbIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		records = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Point, len(records))
	for _, rec := range records {
		payload := fromPayload(rec.Payload)
		id := resolveID(rec.Id, payload)
		if id == "" {
			id = byUUID[rec.Id.GetUuid()]
		}
		byID[id] = Point{ID: id, Vector: extractVector(rec.Vectors), Payload: payload}
	}
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func extractVector(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}

func (q *qdrantVector) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	limitU := uint32(limit)
	var points []*qdrant.RetrievedPoint
	err := withRetry(ctx, func() error {
		res, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         toQdrantFilter(filter),
			Limit:          &limitU,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		payload := fromPayload(p.Payload)
		if id := resolveID(p.Id, payload); id != "" {
			payload["id"] = id
		}
		out = append(out, payload)
	}
	return out, nil
}

func (q *qdrantVector) Stats(ctx context.Context, collection string) (StoreStats, error) {
	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return StoreStats{}, fmt.Errorf("get collection info: %w", err)
	}
	stats := StoreStats{}
	if info.GetPointsCount() != 0 {
		stats.PointsCount = info.GetPointsCount()
	}
	if info.GetVectorsCount() != 0 {
		stats.VectorsCount = info.GetVectorsCount()
	}
	if info.GetSegmentsCount() != 0 {
		stats.SegmentsCount = uint64(info.GetSegmentsCount())
	}
	return stats, nil
}

func (q *qdrantVector) Close() error {
	return q.client.Close()
}
