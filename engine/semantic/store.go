// Package semantic owns every Qdrant operation: index lifecycle, batch
// writes, nearest-neighbour search, and the startup diagnostics that verify
// the stored catalog. Nothing else in the repository talks to Qdrant.
package semantic

import (
	"context"
	"fmt"
	"sort"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// DefaultNumCandidates is the ANN candidate pool size, the
	// quality/latency trade-off knob of the search.
	DefaultNumCandidates = 150
	// DefaultLimit is how many ranked results a search returns.
	DefaultLimit = 5
)

// PointsClient is the slice of the Qdrant points API the store uses.
type PointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// CollectionsClient is the slice of the Qdrant collections API the store uses.
type CollectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of the property vector index.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      PointsClient
	collections CollectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore from pre-built clients. Used in tests.
func NewWithClients(points PointsClient, collections CollectionsClient, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist, with cosine
// distance and the given vector size. The existence check is an exact name
// match. Calling it again is a no-op. Two concurrent callers racing the
// check-then-create are not guarded here; loaders run single-writer.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
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
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Reset drops and recreates the collection. Full reloads go through here:
// stored records are never updated in place.
func (v *VectorStore) Reset(ctx context.Context, dims int) error {
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return v.EnsureCollection(ctx, dims)
}

// InsertProperties writes a batch of listings to the index. Point ids are
// derived from the embedding-input text, so re-ingesting the same source
// rows overwrites the same points instead of accumulating duplicates.
func (v *VectorStore) InsertProperties(ctx context.Context, batch []PropertyPoint) error {
	if len(batch) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(batch))
	for i, p := range batch {
		vec := p.Vector
		if len(vec) == 0 {
			// The collection requires a vector per point; a failed embedding
			// is stored as zeros plus the marker so diagnostics can find it.
			vec = make([]float32, domain.EmbeddingDims)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(p.Record)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vec},
				},
			},
			Payload: propertyPayload(p),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(batch), err)
	}
	return nil
}

// InsertDocuments writes a batch of enriched pages to the index.
func (v *VectorStore) InsertDocuments(ctx context.Context, batch []DocumentPoint) error {
	if len(batch) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(batch))
	for i, d := range batch {
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(d.Content)).String()
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: id},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: d.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"page_num": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(d.PageNum)}},
				"content":  {Kind: &pb.Value_StringValue{StringValue: d.Content}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d documents: %w", len(batch), err)
	}
	return nil
}

// Search runs approximate nearest-neighbour search over the index and
// returns up to limit results, descending by cosine similarity. Ties are in
// the engine's natural order and must not be assumed stable across calls.
func (v *VectorStore) Search(ctx context.Context, vector []float32, numCandidates, limit int) ([]QueryResult, error) {
	if numCandidates <= 0 {
		numCandidates = DefaultNumCandidates
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ef := uint64(numCandidates)
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Params:         &pb.SearchParams{HnswEf: &ef},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]QueryResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = QueryResult{
			PropertyRecord: recordFromPayload(r.GetPayload()),
			Score:          r.GetScore(),
		}
	}
	return results, nil
}

// Count returns the exact number of stored points. Diagnostics only.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// Sample fetches one stored point and reports its payload fields, vector
// length, and failure marker. Diagnostics only, never on the query hot path.
func (v *VectorStore) Sample(ctx context.Context) (*SampleInfo, error) {
	limit := uint32(1)
	resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: v.collection,
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: sample: %w", err)
	}
	pts := resp.GetResult()
	if len(pts) == 0 {
		return nil, nil
	}

	p := pts[0]
	info := &SampleInfo{
		VectorLen:   len(p.GetVectors().GetVector().GetData()),
		EmbedFailed: p.GetPayload()["embedding_failed"].GetBoolValue(),
	}
	for k := range p.GetPayload() {
		info.PayloadFields = append(info.PayloadFields, k)
	}
	sort.Strings(info.PayloadFields)
	return info, nil
}

// PointID derives the content-addressed point id for a listing.
func PointID(r domain.PropertyRecord) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(domain.EmbeddingInput(r))).String()
}

func propertyPayload(p PropertyPoint) map[string]*pb.Value {
	r := p.Record
	s := func(v string) *pb.Value {
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return map[string]*pb.Value{
		"brokered_by":      s(r.BrokeredBy),
		"status":           s(r.Status),
		"price":            {Kind: &pb.Value_DoubleValue{DoubleValue: r.Price}},
		"bed":              s(r.Bed),
		"bath":             s(r.Bath),
		"acre_lot":         s(r.AcreLot),
		"street":           s(r.Street),
		"city":             s(r.City),
		"state":            s(r.State),
		"zip_code":         s(r.ZipCode),
		"house_size":       s(r.HouseSize),
		"prev_sold_date":   s(r.PrevSoldDate),
		"embedding_failed": {Kind: &pb.Value_BoolValue{BoolValue: p.EmbedFailed}},
	}
}

func recordFromPayload(payload map[string]*pb.Value) domain.PropertyRecord {
	str := func(k string) string { return payload[k].GetStringValue() }
	return domain.PropertyRecord{
		BrokeredBy:   str("brokered_by"),
		Status:       str("status"),
		Price:        payload["price"].GetDoubleValue(),
		Bed:          str("bed"),
		Bath:         str("bath"),
		AcreLot:      str("acre_lot"),
		Street:       str("street"),
		City:         str("city"),
		State:        str("state"),
		ZipCode:      str("zip_code"),
		HouseSize:    str("house_size"),
		PrevSoldDate: str("prev_sold_date"),
	}
}
