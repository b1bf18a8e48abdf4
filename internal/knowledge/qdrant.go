package knowledge

import (
	"context"
	"fmt"
	"net"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// QdrantClient is a thin wrapper over Qdrant's collections and points gRPC
// services, exposing only what the knowledge store needs.
type QdrantClient struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewQdrantClient dials the Qdrant gRPC endpoint. The dial is lazy; a bad
// address surfaces on the first call.
func NewQdrantClient(cfg QdrantConfig) (*QdrantClient, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant at %s: %w", addr, err)
	}
	return &QdrantClient{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection with cosine distance unless it
// already exists.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	if _, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return nil
	}
	params := &pb.VectorParams{Size: dimension, Distance: pb.Distance_Cosine}
	_, err := c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{Params: params},
		},
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes a single point keyed by a UUID string.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]string) error {
	point := &pb.PointStruct{
		Id:      uuidPointID(id),
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
		Payload: toQdrantPayload(payload),
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Search runs a nearest-neighbor query and returns up to topK hits with
// their string payload fields.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*SearchResult, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	hits := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, &SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: fromQdrantPayload(r.Payload),
		})
	}
	return hits, nil
}

// Close tears down the underlying gRPC connection.
func (c *QdrantClient) Close() error {
	return c.conn.Close()
}

func uuidPointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func toQdrantPayload(payload map[string]string) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return out
}

// fromQdrantPayload keeps string fields only; the store never writes
// anything else.
func fromQdrantPayload(payload map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}
