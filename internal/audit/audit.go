package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/amycare/telemetry-core/internal/infrastructure/mongo"
	"github.com/amycare/telemetry-core/internal/observation"
)

// retentionDays is how long audit records are kept before the TTL
// monitor removes them.
const retentionDays = 180

// Record is one provenance entry linking an accepted reading to the
// history record it produced.
type Record struct {
	ServerTS        time.Time          `bson:"server_ts"`
	PatientID       string             `bson:"patient_id"`
	ReadingKind     observation.Kind   `bson:"reading_kind"`
	SourceFamily    observation.Family `bson:"source_family"`
	HistoryRecordID string             `bson:"history_record_id"`
}

// Recorder accepts audit records. The writer treats it as best-effort:
// a Recorder failure is logged but never fails the primary write.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// MongoSink writes audit records to the audit database.
type MongoSink struct {
	coll *mongodriver.Collection
	op   func(context.Context) (context.Context, context.CancelFunc)
}

// NewMongoSink creates the audit sink on the client's audit database.
func NewMongoSink(client *mongo.Client) *MongoSink {
	return &MongoSink{
		coll: client.Audit().Collection(mongo.CollAuditLog),
		op:   client.OpCtx,
	}
}

// Record implements Recorder.
func (s *MongoSink) Record(ctx context.Context, rec Record) error {
	opCtx, cancel := s.op(ctx)
	defer cancel()

	if _, err := s.coll.InsertOne(opCtx, rec); err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// EnsureIndexes creates the server_ts TTL index. Safe to call on every
// startup; index creation is idempotent.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	opCtx, cancel := s.op(ctx)
	defer cancel()

	ttl := int32(retentionDays * 24 * 60 * 60)
	_, err := s.coll.Indexes().CreateOne(opCtx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "server_ts", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(ttl),
	})
	if err != nil {
		return fmt.Errorf("creating audit ttl index: %w", err)
	}
	return nil
}
