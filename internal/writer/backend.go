package writer

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/amycare/telemetry-core/internal/infrastructure/mongo"
)

// backend is the persistence seam under the dual-write protocol.
type backend interface {
	// InsertHistory appends one record to the named history collection.
	InsertHistory(ctx context.Context, collection string, rec historyRecord) error

	// UpdateSnapshot performs the compare-and-set on the patient
	// document. It returns false with a nil error when a newer snapshot
	// already exists (the CAS matched nothing).
	UpdateSnapshot(ctx context.Context, patientID, field string, snap snapshotValue, deviceTS time.Time) (bool, error)
}

type mongoBackend struct {
	client *mongo.Client
}

func newMongoBackend(client *mongo.Client) *mongoBackend {
	return &mongoBackend{client: client}
}

func (b *mongoBackend) InsertHistory(ctx context.Context, collection string, rec historyRecord) error {
	opCtx, cancel := b.client.OpCtx(ctx)
	defer cancel()

	if _, err := b.client.Collection(collection).InsertOne(opCtx, rec); err != nil {
		return fmt.Errorf("inserting into %s: %w", collection, err)
	}
	return nil
}

// UpdateSnapshot sets last_<kind> only when the stored device_ts is
// absent or strictly older. The guard lives in the filter, so the update
// is a single atomic document operation on the server.
func (b *mongoBackend) UpdateSnapshot(ctx context.Context, patientID, field string, snap snapshotValue, deviceTS time.Time) (bool, error) {
	id, err := bson.ObjectIDFromHex(patientID)
	if err != nil {
		return false, fmt.Errorf("patient id %q: %w", patientID, err)
	}

	opCtx, cancel := b.client.OpCtx(ctx)
	defer cancel()

	tsField := field + ".device_ts"
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{tsField: bson.M{"$exists": false}},
			bson.M{tsField: bson.M{"$lt": deviceTS}},
		},
	}
	update := bson.M{"$set": bson.M{
		field:        snap,
		"updated_at": snap.ServerTS,
	}}

	res, err := b.client.Collection(mongo.CollPatients).UpdateOne(opCtx, filter, update)
	if err != nil {
		return false, fmt.Errorf("snapshot cas on %s: %w", field, err)
	}
	return res.MatchedCount == 1, nil
}
