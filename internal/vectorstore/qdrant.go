package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("patternd.vectorstore.qdrant")

const (
	backendQdrant = "qdrant"

	payloadObservationID = "observation_id"
	payloadCompany       = "company"
	payloadPatternID     = "pattern_id"
	payloadText          = "text"
)

// pointNamespace derives stable Qdrant point ids from observation ids,
// which are not required to be UUIDs.
var pointNamespace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9f2e-3c5d7a9b1e40")

// QdrantConfig holds configuration for the Qdrant gRPC index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `koanf:"host"`

	// Port is the gRPC port. Default: 6334
	Port int `koanf:"port"`

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string `koanf:"api_key"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// CollectionName holds every company's observations.
	// Default: "patternd_observations"
	CollectionName string `koanf:"collection_name"`

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64 `koanf:"vector_size"`

	// MaxRetries bounds retries of transient failures. Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled on each retry.
	// Default: 500ms
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionName == "" {
		c.CollectionName = "patternd_observations"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
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
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

// PointID returns the Qdrant point id for an observation.
func PointID(observationID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(observationID)).String()
}

// QdrantIndex implements Index on a single Qdrant collection, filtering by
// the company payload field.
type QdrantIndex struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantIndex connects to Qdrant, checks its health and creates the
// collection when missing.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled")
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        config.Host,
		Port:        config.Port,
		APIKey:      config.APIKey,
		UseTLS:      config.UseTLS,
		GrpcOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{client: client, embedder: embedder, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.CollectionName),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return idx, nil
}

func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.CollectionName)
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// retry runs op with exponential backoff while its error is transient.
func (s *QdrantIndex) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

// searchFilter matches the company and, when patternIDs is non-empty, any
// of the pattern ids.
func searchFilter(company string, patternIDs []string) *qdrant.Filter {
	must := []*qdrant.Condition{{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: payloadCompany,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: company},
				},
			},
		},
	}}
	if len(patternIDs) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: payloadPatternID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: patternIDs},
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

// Upsert embeds entries and writes them as points.
func (s *QdrantIndex) Upsert(ctx context.Context, entries []Entry) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	defer func() { recordOp(backendQdrant, "upsert", err) }()

	var batch []Entry
	for company, group := range groupEntries(entries) {
		if company == "" {
			return ErrInvalidCompany
		}
		batch = append(batch, group...)
	}
	span.SetAttributes(attribute.Int("entry_count", len(batch)))
	if len(batch) == 0 {
		return nil
	}

	texts := make([]string, len(batch))
	for i, e := range batch {
		texts[i] = e.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
	}

	points := make([]*qdrant.PointStruct, len(batch))
	for i, e := range batch {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(e.ObservationID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				payloadObservationID: stringValue(e.ObservationID),
				payloadCompany:       stringValue(e.Company),
				payloadPatternID:     stringValue(e.PatternID),
				payloadText:          stringValue(e.Text),
			},
		}
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Delete removes points by observation id. Point ids are derived from
// observation ids alone, so company only scopes the request.
func (s *QdrantIndex) Delete(ctx context.Context, company string, observationIDs []string) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Delete")
	defer span.End()
	defer func() { recordOp(backendQdrant, "delete", err) }()
	span.SetAttributes(attribute.String("company", company), attribute.Int("id_count", len(observationIDs)))

	if len(observationIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(observationIDs))
	for i, id := range observationIDs {
		ids[i] = qdrant.NewIDUUID(PointID(id))
	}
	err = s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Search queries points whose company payload matches, optionally scoped
// to pattern ids.
func (s *QdrantIndex) Search(ctx context.Context, company, text string, k int, patternIDs []string) (matches []Match, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.String("company", company), attribute.Int("k", k))

	start := time.Now()
	defer func() {
		searchDuration.WithLabelValues(backendQdrant).Observe(time.Since(start).Seconds())
		recordOp(backendQdrant, "search", err)
	}()

	if k <= 0 || strings.TrimSpace(text) == "" {
		return []Match{}, nil
	}
	if company == "" {
		return nil, ErrInvalidCompany
	}

	query, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Query:          qdrant.NewQuery(query...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         searchFilter(company, patternIDs),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches = make([]Match, 0, len(points))
	for _, p := range points {
		v, ok := p.GetPayload()[payloadObservationID]
		if !ok {
			continue
		}
		matches = append(matches, Match{ObservationID: v.GetStringValue(), Score: float64(p.GetScore())})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
