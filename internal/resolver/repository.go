package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/amycare/telemetry-core/internal/infrastructure/mongo"
	"github.com/amycare/telemetry-core/internal/observation"
)

// deviceSlotColumns maps a reading kind to the amy_devices column that
// holds the sub-device BLE MAC for that kind. Column names are part of
// the registry contract.
var deviceSlotColumns = map[observation.Kind]string{
	observation.KindBloodPressure:   "mac_dusun_bps",
	observation.KindSpO2:            "mac_oxymeter",
	observation.KindBodyTemperature: "mac_body_temp",
	observation.KindWeight:          "mac_weight",
	observation.KindBloodSugar:      "mac_gluc",
	observation.KindUricAcid:        "mac_ua",
	observation.KindCholesterol:     "mac_chol",
}

// MongoRepository resolves device identities against the registry
// collections: amy_devices, amy_boxes, watches, and patients.
type MongoRepository struct {
	client *mongo.Client
}

// NewMongoRepository creates a registry-backed Repository.
func NewMongoRepository(client *mongo.Client) *MongoRepository {
	return &MongoRepository{client: client}
}

// visiblePatientFilter excludes soft-deleted patients from every lookup.
func visiblePatientFilter(extra bson.M) bson.M {
	filter := bson.M{"is_deleted": bson.M{"$ne": true}}
	for k, v := range extra {
		filter[k] = v
	}
	return filter
}

// patientRef is the projection used for ID-only lookups.
type patientRef struct {
	ID bson.ObjectID `bson:"_id"`
}

// deviceRow is the amy_devices projection carrying the owning patient.
type deviceRow struct {
	PatientID bson.ObjectID `bson:"patient_id"`
}

// PatientByDeviceMAC implements Repository.
func (r *MongoRepository) PatientByDeviceMAC(ctx context.Context, kind observation.Kind, mac string) (string, error) {
	column, ok := deviceSlotColumns[kind]
	if !ok {
		return "", ErrNoMapping
	}

	opCtx, cancel := r.client.OpCtx(ctx)
	defer cancel()

	var row deviceRow
	err := r.client.Collection(mongo.CollAmyDevices).
		FindOne(opCtx, bson.M{column: mac}).
		Decode(&row)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", ErrNoMapping
	}
	if err != nil {
		return "", fmt.Errorf("querying %s.%s: %w", mongo.CollAmyDevices, column, err)
	}

	return r.visiblePatient(ctx, row.PatientID)
}

// PatientByGatewayMAC implements Repository. The fallback only applies
// when exactly one box claims the MAC; an ambiguous mapping cannot be
// attributed safely.
func (r *MongoRepository) PatientByGatewayMAC(ctx context.Context, mac string) (string, error) {
	opCtx, cancel := r.client.OpCtx(ctx)
	defer cancel()

	cursor, err := r.client.Collection(mongo.CollAmyBoxes).
		Find(opCtx, bson.M{"mac_address": mac})
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", mongo.CollAmyBoxes, err)
	}
	defer cursor.Close(opCtx)

	var rows []deviceRow
	if err := cursor.All(opCtx, &rows); err != nil {
		return "", fmt.Errorf("reading %s rows: %w", mongo.CollAmyBoxes, err)
	}

	switch len(rows) {
	case 0:
		return "", ErrNoMapping
	case 1:
		return r.visiblePatient(ctx, rows[0].PatientID)
	default:
		return "", ErrAmbiguousGateway
	}
}

// PatientByIMEI implements Repository.
func (r *MongoRepository) PatientByIMEI(ctx context.Context, imei string) (string, error) {
	opCtx, cancel := r.client.OpCtx(ctx)
	defer cancel()

	var row deviceRow
	err := r.client.Collection(mongo.CollWatches).
		FindOne(opCtx, bson.M{"imei": imei}).
		Decode(&row)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", ErrNoMapping
	}
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", mongo.CollWatches, err)
	}

	return r.visiblePatient(ctx, row.PatientID)
}

// PatientByCitiz implements Repository.
func (r *MongoRepository) PatientByCitiz(ctx context.Context, citiz string) (string, error) {
	opCtx, cancel := r.client.OpCtx(ctx)
	defer cancel()

	var ref patientRef
	err := r.client.Collection(mongo.CollPatients).
		FindOne(opCtx, visiblePatientFilter(bson.M{"citiz": citiz})).
		Decode(&ref)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", ErrNoMapping
	}
	if err != nil {
		return "", fmt.Errorf("querying %s by citiz: %w", mongo.CollPatients, err)
	}

	return ref.ID.Hex(), nil
}

// CreateUnregisteredPatient implements Repository. The partial unique
// index on patients.citiz turns concurrent first-sightings into a
// duplicate-key error, which the resolver handles by re-reading.
func (r *MongoRepository) CreateUnregisteredPatient(ctx context.Context, hint observation.PatientHint) (string, error) {
	opCtx, cancel := r.client.OpCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	id := bson.NewObjectID()
	doc := bson.M{
		"_id":          id,
		"citiz":        hint.Citiz,
		"name_th":      hint.NameTH,
		"name_en":      hint.NameEN,
		"birth_date":   hint.Birth,
		"gender":       hint.Gender,
		"unregistered": true,
		"created_at":   now,
		"updated_at":   now,
	}

	_, err := r.client.Collection(mongo.CollPatients).InsertOne(opCtx, doc)
	if mongo.IsDuplicateKey(err) {
		return "", ErrDuplicateCitiz
	}
	if err != nil {
		return "", fmt.Errorf("inserting unregistered patient: %w", err)
	}

	return id.Hex(), nil
}

// visiblePatient confirms the mapped patient exists and is not
// soft-deleted, returning its hex ID.
func (r *MongoRepository) visiblePatient(ctx context.Context, id bson.ObjectID) (string, error) {
	opCtx, cancel := r.client.OpCtx(ctx)
	defer cancel()

	var ref patientRef
	err := r.client.Collection(mongo.CollPatients).
		FindOne(opCtx, visiblePatientFilter(bson.M{"_id": id})).
		Decode(&ref)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", ErrNoMapping
	}
	if err != nil {
		return "", fmt.Errorf("verifying patient %s: %w", id.Hex(), err)
	}

	return ref.ID.Hex(), nil
}
