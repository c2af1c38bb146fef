package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/workspaced/internal/scope"
)

// pointNamespace is the UUIDv5 namespace for deriving deterministic Qdrant
// point IDs from canonical keys, so an upsert for the same key always hits
// the same point.
var pointNamespace = uuid.MustParse("7f6a1e6e-9c40-4d8e-bb6c-61de923f5c7d")

// scrollPageSize bounds one Scroll page during listing.
const scrollPageSize = 256

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334, not the HTTP REST 6333).
	Port int `koanf:"port"`

	// Collection is the collection holding all workspace objects.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimensionality. Must match the embedding
	// provider's declared dimension.
	VectorSize uint64 `koanf:"vector_size"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB.
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "workspace_entries"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// Qdrant is a Backend storing objects and their vectors as Qdrant points
// over native gRPC.
//
// One collection holds every object. Points carry the canonical key, scope
// fields, value, and expiry in their payload; objects without an embedding
// yet hold a zero vector and are excluded from vector queries via an
// `embedded` payload flag.
type Qdrant struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrant creates a Qdrant backend, connecting and ensuring the
// collection exists.
func NewQdrant(cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	q := &Qdrant{client: client, config: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant backend initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
		zap.Uint64("vector_size", cfg.VectorSize))

	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	_, err := q.client.GetCollectionInfo(ctx, q.config.Collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", q.config.Collection, err)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.config.Collection, err)
	}
	return nil
}

// Put stores or replaces the object at key.
func (q *Qdrant) Put(ctx context.Context, key string, obj Object) error {
	p, err := scope.ParseKey(key)
	if err != nil {
		return err
	}

	payload := map[string]*qdrant.Value{
		"key":          stringValue(key),
		"scope_type":   stringValue(string(p.ScopeType)),
		"owner_id":     stringValue(p.OwnerID),
		"path":         stringValue(p.RelativePath),
		"value":        stringValue(string(obj.Data)),
		"content_type": stringValue(obj.ContentType),
		"created_at":   intValue(obj.CreatedAt.Unix()),
		"expires_at":   intValue(expiryUnix(obj)),
		"embedded":     boolValue(len(obj.Embedding) > 0),
		"embedded_at":  intValue(timestampUnix(obj.EmbeddedAt)),
	}
	if len(obj.Meta) > 0 {
		meta, err := json.Marshal(obj.Meta)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		payload["meta"] = stringValue(string(meta))
	}

	vector := obj.Embedding
	if len(vector) == 0 {
		// Placeholder until the indexer attaches a real embedding; the
		// `embedded` flag keeps it out of vector queries.
		vector = make([]float32, q.config.VectorSize)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.config.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(key),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}

// Get returns the object at key, expired or not.
func (q *Qdrant) Get(ctx context.Context, key string) (Object, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.config.Collection,
		Ids:            []*qdrant.PointId{pointID(key)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return Object{}, fmt.Errorf("retrieving %s: %w", key, err)
	}
	if len(points) == 0 {
		return Object{}, ErrNotFound
	}
	return objectFromPayload(points[0].Payload, points[0].Vectors)
}

// Delete removes the object at key.
func (q *Qdrant) Delete(ctx context.Context, key string) (bool, error) {
	// Qdrant deletes are idempotent and silent, so probe first to report
	// whether anything was removed.
	if _, err := q.Get(ctx, key); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(key)}},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return true, nil
}

// Exists reports whether a non-expired object is stored at key.
func (q *Qdrant) Exists(ctx context.Context, key string) (bool, error) {
	obj, err := q.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !obj.Expired(timeNow()), nil
}

// List scrolls the collection under the prefix's scope and returns
// non-expired keys in scroll order.
func (q *Qdrant) List(ctx context.Context, prefix string) ([]string, error) {
	p, err := scope.ParsePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition("scope_type", string(p.ScopeType)),
			keywordCondition("owner_id", p.OwnerID),
			notExpiredCondition(timeNow()),
		},
	}

	var keys []string
	var offset *qdrant.PointId
	for {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.config.Collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			Offset:         offset,
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling collection: %w", err)
		}
		keys = appendScrollKeys(keys, points, prefix, offset)
		if len(points) < scrollPageSize {
			return keys, nil
		}
		offset = points[len(points)-1].Id
	}
}

// appendScrollKeys collects the in-prefix keys from one scroll page. The
// scroll offset is inclusive, so the point carrying the previous page's
// boundary ID comes back again and must be skipped.
func appendScrollKeys(keys []string, points []*qdrant.RetrievedPoint, prefix string, offset *qdrant.PointId) []string {
	for _, point := range points {
		if offset != nil && point.Id.GetUuid() == offset.GetUuid() {
			continue
		}
		key := payloadString(point.Payload, "key")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// VectorSearch runs a filtered ANN query under the prefix's scope.
func (q *Qdrant) VectorSearch(ctx context.Context, vector []float32, prefix string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	p, err := scope.ParsePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition("scope_type", string(p.ScopeType)),
			keywordCondition("owner_id", p.OwnerID),
			embeddedCondition(),
			notExpiredCondition(timeNow()),
		},
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, point := range results {
		key := payloadString(point.Payload, "key")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		matches = append(matches, Match{Key: key, Score: point.Score})
	}
	return matches, nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

func pointID(key string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(key)).String())
}

func objectFromPayload(payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (Object, error) {
	obj := Object{
		Data:        []byte(payloadString(payload, "value")),
		ContentType: payloadString(payload, "content_type"),
		CreatedAt:   time.Unix(payloadInt(payload, "created_at"), 0).UTC(),
	}
	if exp := payloadInt(payload, "expires_at"); exp > 0 {
		obj.ExpiresAt = time.Unix(exp, 0).UTC()
	}
	if meta := payloadString(payload, "meta"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &obj.Meta); err != nil {
			return Object{}, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if payloadBool(payload, "embedded") && vectors != nil {
		if v := vectors.GetVector(); v != nil {
			obj.Embedding = v.Data
		}
		if at := payloadInt(payload, "embedded_at"); at > 0 {
			obj.EmbeddedAt = time.Unix(at, 0).UTC()
		}
	}
	return obj, nil
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func embeddedCondition() *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: "embedded",
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Boolean{Boolean: true},
				},
			},
		},
	}
}

// notExpiredCondition matches objects that never expire (expires_at == 0)
// or expire after now.
func notExpiredCondition(now time.Time) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Filter{
			Filter: &qdrant.Filter{
				Should: []*qdrant.Condition{
					{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key: "expires_at",
								Match: &qdrant.Match{
									MatchValue: &qdrant.Match_Integer{Integer: 0},
								},
							},
						},
					},
					{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key:   "expires_at",
								Range: &qdrant.Range{Gt: qdrant.PtrOf(float64(now.Unix()))},
							},
						},
					},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func boolValue(b bool) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: b}}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		if i, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return i.IntegerValue
		}
	}
	return 0
}

func payloadBool(payload map[string]*qdrant.Value, key string) bool {
	if v, ok := payload[key]; ok {
		if b, ok := v.Kind.(*qdrant.Value_BoolValue); ok {
			return b.BoolValue
		}
	}
	return false
}

func timestampUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

var _ Backend = (*Qdrant)(nil)
