// Package semantic owns all Qdrant operations. Each (repository, branch)
// partition maps to its own collection, so searches can never cross
// partition boundaries.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/beetledev/beetle-engine/engine/domain"
)

// VectorStore is the sole owner of the Qdrant connection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	prefix      string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// prefix is prepended to every collection name (the partition naming
// scheme).
func New(addr, prefix string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		prefix:      prefix,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

func (v *VectorStore) collectionName(partitionKey string) string {
	return domain.SanitizeCollectionName(v.prefix, partitionKey)
}

// EnsureCollection creates the partition's collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, partitionKey string, dims int) error {
	name := v.collectionName(partitionKey)

	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", name, err)
	}
	return nil
}

// DeletePartition removes the partition's entire collection.
func (v *VectorStore) DeletePartition(ctx context.Context, partitionKey string) error {
	name := v.collectionName(partitionKey)
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: name,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	return nil
}

// Upsert stores embedding records. Re-indexing an existing record ID
// overwrites its vector and payload; it never duplicates.
func (v *VectorStore) Upsert(ctx context.Context, partitionKey string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			switch tv := val.(type) {
			case string:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
			case int:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
			case int64:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
			case float64:
				payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
			case bool:
				payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
			default:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
			}
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collectionName(partitionKey),
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteByDocument removes all points of one document. Used for
// replace-on-reingest and eviction.
func (v *VectorStore) DeleteByDocument(ctx context.Context, partitionKey, documentID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collectionName(partitionKey),
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("document_id", documentID),
					},
				},
			},
		},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil // partition never indexed
		}
		return fmt.Errorf("semantic: delete by document %s: %w", documentID, err)
	}
	return nil
}

// Search performs cosine k-NN search within the partition, dropping hits
// below threshold. A partition whose collection does not exist yields an
// empty result, not an error.
func (v *VectorStore) Search(ctx context.Context, partitionKey string, vector []float32, k int, threshold float32) ([]SearchHit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collectionName(partitionKey),
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hit := SearchHit{
			Score: r.GetScore(),
		}
		for key, val := range r.GetPayload() {
			switch key {
			case "chunk_id":
				hit.ChunkID = val.GetStringValue()
			case "document_id":
				hit.DocumentID = val.GetStringValue()
			case "content":
				hit.Text = val.GetStringValue()
			case "title":
				hit.Title = val.GetStringValue()
			case "source_kind":
				hit.SourceKind = val.GetStringValue()
			case "position":
				hit.Position = int(val.GetIntegerValue())
			}
		}
		hits[i] = hit
	}
	return hits, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
