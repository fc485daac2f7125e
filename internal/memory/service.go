package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/sanitize"
)

// Result is one memory point returned by Search.
type Result struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Score       float32        `json:"score"`
	Timestamp   string         `json:"timestamp,omitempty"`
	MemoryType  string         `json:"memory_type,omitempty"`
	SourceAgent string         `json:"source_agent,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// SearchFilters narrows a memory search. UserID is always applied by the
// service itself.
type SearchFilters struct {
	MemoryType  string
	SourceAgent string
	TimeFrom    *time.Time
	TimeTo      *time.Time
}

// Service stores and retrieves memories in a Qdrant collection. All
// operations are best-effort: failures are logged and produce empty
// results, never errors visible to the agent.
type Service struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	sanitizer  *sanitize.Sanitizer
	log        *logger.Logger
}

// New creates a memory service over an existing Qdrant client.
func New(client *qdrant.Client, embedder Embedder, collection string, sanitizer *sanitize.Sanitizer, log *logger.Logger) *Service {
	if collection == "" {
		collection = "radbot_memories"
	}
	return &Service{
		client:     client,
		embedder:   embedder,
		collection: collection,
		sanitizer:  sanitizer,
		log:        log,
	}
}

// EnsureCollection creates the collection and its payload indexes if
// absent. Cosine distance; keyword indexes on user_id, memory_type, and
// source_agent; datetime index on timestamp.
func (s *Service) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.embedder.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return err
	}

	keywordFields := []string{"user_id", "memory_type", "source_agent"}
	for _, field := range keywordFields {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return err
		}
	}
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "timestamp",
		FieldType:      qdrant.FieldType_FieldTypeDatetime.Enum(),
	})
	return err
}

// Upsert embeds text and stores it as a memory point for the user. Extra
// metadata fields ride along in the payload.
func (s *Service) Upsert(ctx context.Context, userID, text string, meta map[string]any) error {
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.WithError(err).Warn("memory upsert: embedding failed")
		return err
	}

	fields := map[string]any{
		"user_id":   userID,
		"text":      text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	memoryType := "memory"
	for k, v := range meta {
		if k == "memory_type" {
			if mt, ok := v.(string); ok && mt != "" {
				memoryType = mt
			}
			continue
		}
		fields[k] = v
	}
	fields["memory_type"] = memoryType

	payload := make(map[string]*qdrant.Value, len(fields))
	for key, value := range fields {
		val, err := qdrant.NewValue(value)
		if err != nil {
			s.log.Warn("memory upsert: skipping payload field",
				zap.String("field", key), zap.Error(err))
			continue
		}
		payload[key] = val
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		s.log.WithError(err).Warn("memory upsert failed")
		return err
	}
	return nil
}

// Search returns the top-limit memories matching the query for the user.
// Failures log and return an empty list. Text fields are sanitized before
// they reach the agent.
func (s *Service) Search(ctx context.Context, appName, userID, query string, limit int, filters SearchFilters) []Result {
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.WithError(err).Warn("memory search: embedding failed",
			zap.String("app", appName))
		return nil
	}

	must := []*qdrant.Condition{keywordCondition("user_id", userID)}
	if filters.MemoryType != "" {
		must = append(must, keywordCondition("memory_type", filters.MemoryType))
	}
	if filters.SourceAgent != "" {
		must = append(must, keywordCondition("source_agent", filters.SourceAgent))
	}
	if filters.TimeFrom != nil || filters.TimeTo != nil {
		dr := &qdrant.DatetimeRange{}
		if filters.TimeFrom != nil {
			dr.Gte = timestamppb.New(filters.TimeFrom.UTC())
		}
		if filters.TimeTo != nil {
			dr.Lte = timestamppb.New(filters.TimeTo.UTC())
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:           "timestamp",
					DatetimeRange: dr,
				},
			},
		})
	}

	searchResult, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		s.log.WithError(err).Warn("memory search failed",
			zap.String("user_id", userID))
		return nil
	}
	points := searchResult.GetResult()

	results := make([]Result, 0, len(points))
	for _, p := range points {
		r := Result{Score: p.GetScore(), Fields: map[string]any{}}
		if id := p.GetId(); id != nil {
			r.ID = id.GetUuid()
		}
		for key, value := range p.GetPayload() {
			switch key {
			case "text":
				r.Text = s.sanitizer.Clean(value.GetStringValue(), sanitize.SourceMemory)
			case "timestamp":
				r.Timestamp = value.GetStringValue()
			case "memory_type":
				r.MemoryType = value.GetStringValue()
			case "source_agent":
				r.SourceAgent = value.GetStringValue()
			case "user_id":
				// filtered on, not returned
			default:
				r.Fields[key] = valueToAny(value)
			}
		}
		results = append(results, r)
	}
	return results
}

// keywordCondition builds an exact-match payload condition.
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

// valueToAny converts a qdrant payload value into plain Go data.
func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = valueToAny(item)
		}
		return out
	default:
		return nil
	}
}
