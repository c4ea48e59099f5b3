package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"courseqa/internal/corpus"
	"courseqa/internal/domain"
)

const (
	scrollPageSize  = 256
	upsertBatchSize = 256
)

// segmentNamespace seeds the deterministic point ids.
var segmentNamespace = uuid.MustParse("6f1f6a52-3b0e-4c43-9d55-6c1a5e0b7c21")

// Storage keeps the embedding table in a Qdrant collection, one point per
// segment. Loading scrolls the whole collection into memory; search happens
// locally, never in Qdrant.
type Storage struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	apiKey      string
}

type Config struct {
	Addr       string
	APIKey     string
	Collection string
	UseTLS     bool
}

// NewStorage creates a Storage connected to Qdrant's gRPC port.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.Collection == "" {
		return nil, errors.New("qdrant: collection name is required")
	}
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", cfg.Addr, err)
	}
	return &Storage{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		apiKey:      cfg.APIKey,
	}, nil
}

func (s *Storage) Close() error { return s.conn.Close() }

func (s *Storage) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *Storage) Load(ctx context.Context) (*corpus.Corpus, error) {
	ctx = s.withAuth(ctx)
	limit := uint32(scrollPageSize)
	var offset *pb.PointId
	var positioned []positionedSegment
	model := ""
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: qdrant scroll %s: %w", domain.ErrCorpusLoad, s.collection, err)
		}
		for _, p := range resp.GetResult() {
			ps, err := pointToSegment(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrCorpusLoad, err)
			}
			positioned = append(positioned, ps)
			if model == "" {
				model = ps.model
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.SliceStable(positioned, func(i, j int) bool { return positioned[i].position < positioned[j].position })
	segments := make([]domain.Segment, len(positioned))
	for i, ps := range positioned {
		segments[i] = ps.segment
	}
	return corpus.New(model, segments)
}

// Save drops and recreates the collection, then upserts every segment.
func (s *Storage) Save(ctx context.Context, c *corpus.Corpus) error {
	if c == nil {
		return errors.New("nil corpus")
	}
	ctx = s.withAuth(ctx)
	if err := s.recreateCollection(ctx, c.Dimension()); err != nil {
		return err
	}
	wait := true
	for start := 0; start < c.Len(); start += upsertBatchSize {
		end := min(start+upsertBatchSize, c.Len())
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, segmentToPoint(i, c.Model(), c.Segment(i)))
		}
		if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
		}
	}
	return nil
}

func (s *Storage) recreateCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, col := range list.GetCollections() {
		if col.GetName() == s.collection {
			if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
				return fmt.Errorf("qdrant: delete collection %s: %w", s.collection, err)
			}
			break
		}
	}
	if _, err := s.collections.Create(ctx, createRequest(s.collection, dims)); err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
	}
	return nil
}

// createRequest uses Dot distance: Qdrant normalizes vectors stored under
// Cosine, and Load must return them exactly as saved.
func createRequest(collection string, dims int) *pb.CreateCollection {
	return &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Dot,
				},
			},
		},
	}
}

type positionedSegment struct {
	position int64
	model    string
	segment  domain.Segment
}

func pointID(position int, seg domain.Segment) string {
	key := strconv.Itoa(position) + ":" + strconv.Itoa(seg.Number) + ":" +
		strconv.FormatFloat(seg.Start, 'g', -1, 64) + ":" + strconv.FormatFloat(seg.End, 'g', -1, 64)
	return uuid.NewSHA1(segmentNamespace, []byte(key)).String()
}

func segmentToPoint(position int, model string, seg domain.Segment) *pb.PointStruct {
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(position, seg)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: seg.Embedding},
			},
		},
		Payload: map[string]*pb.Value{
			"position": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(position)}},
			"title":    stringValue(seg.Title),
			"number":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(seg.Number)}},
			"start":    {Kind: &pb.Value_DoubleValue{DoubleValue: seg.Start}},
			"end":      {Kind: &pb.Value_DoubleValue{DoubleValue: seg.End}},
			"text":     stringValue(seg.Text),
			"model":    stringValue(model),
		},
	}
}

func pointToSegment(p *pb.RetrievedPoint) (positionedSegment, error) {
	payload := p.GetPayload()
	for _, key := range []string{"position", "title", "number", "start", "end", "text"} {
		if _, ok := payload[key]; !ok {
			return positionedSegment{}, fmt.Errorf("point %s: payload field %q missing", p.GetId().GetUuid(), key)
		}
	}
	data := p.GetVectors().GetVector().GetData()
	if len(data) == 0 {
		return positionedSegment{}, fmt.Errorf("point %s: no vector", p.GetId().GetUuid())
	}
	return positionedSegment{
		position: payload["position"].GetIntegerValue(),
		model:    payload["model"].GetStringValue(),
		segment: domain.Segment{
			Title:     payload["title"].GetStringValue(),
			Number:    int(payload["number"].GetIntegerValue()),
			Start:     number(payload["start"]),
			End:       number(payload["end"]),
			Text:      payload["text"].GetStringValue(),
			Embedding: append([]float32(nil), data...),
		},
	}, nil
}

// number accepts either numeric kind; Qdrant returns whole doubles as integers
// in some versions.
func number(v *pb.Value) float64 {
	if i, ok := v.GetKind().(*pb.Value_IntegerValue); ok {
		return float64(i.IntegerValue)
	}
	return v.GetDoubleValue()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
