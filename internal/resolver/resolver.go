package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/observation"
)

// Status is the outcome class of a resolution attempt.
type Status string

const (
	// StatusResolved means an existing patient owns the device.
	StatusResolved Status = "resolved"

	// StatusUnresolved means no patient mapping exists. Emergency readings
	// still flow downstream with a null patient.
	StatusUnresolved Status = "unresolved"

	// StatusAutoProvisioned means a new unregistered patient was created
	// (or found after losing a creation race) from a Qube citizen ID.
	StatusAutoProvisioned Status = "auto_provisioned"
)

// Resolution is the result of mapping a reading to a patient.
type Resolution struct {
	Status    Status
	PatientID string
}

// Resolved reports whether the resolution carries a patient ID.
func (r Resolution) Resolved() bool {
	return r.Status == StatusResolved || r.Status == StatusAutoProvisioned
}

// Repository abstracts the registry lookups behind resolution.
//
// Lookups return ErrNoMapping when no (visible) patient owns the device;
// any other error is an infrastructure failure worth retrying upstream.
type Repository interface {
	// PatientByDeviceMAC maps an AVA4 sub-device BLE MAC to a patient via
	// the per-kind device slot.
	PatientByDeviceMAC(ctx context.Context, kind observation.Kind, mac string) (string, error)

	// PatientByGatewayMAC maps an AVA4 gateway MAC to the patient whose
	// gateway slot holds it, provided exactly one patient matches.
	PatientByGatewayMAC(ctx context.Context, mac string) (string, error)

	// PatientByIMEI maps a Kati watch IMEI to its patient.
	PatientByIMEI(ctx context.Context, imei string) (string, error)

	// PatientByCitiz maps a Thai citizen ID to its patient.
	PatientByCitiz(ctx context.Context, citiz string) (string, error)

	// CreateUnregisteredPatient inserts a new patient carrying the Qube
	// demographic hint with unregistered=true, returning the new ID.
	// Returns ErrDuplicateCitiz if another writer created it first.
	CreateUnregisteredPatient(ctx context.Context, hint observation.PatientHint) (string, error)
}

// Resolver maps device identities to patients, with a short-lived
// in-process cache in front of the registry collections.
type Resolver struct {
	repo   Repository
	cache  *identityCache
	logger *logging.Logger
}

// New creates a Resolver. A cacheTTL of 0 disables caching.
func New(repo Repository, cacheTTL time.Duration, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	var cache *identityCache
	if cacheTTL > 0 {
		cache = newIdentityCache(cacheTTL)
	}
	return &Resolver{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Resolve maps one reading to a patient.
//
// Unresolved is not an error: the caller decides whether the reading is
// droppable (vitals) or must flow on with a null patient (emergencies).
// An error return means the registries could not be consulted at all.
func (r *Resolver) Resolve(ctx context.Context, reading observation.Reading) (Resolution, error) {
	key := cacheKey(reading)
	if res, ok := r.cache.get(key); ok {
		return res, nil
	}

	res, err := r.lookup(ctx, reading)
	if err != nil {
		return Resolution{Status: StatusUnresolved}, err
	}

	// Negative results are not cached: a device may be assigned to a
	// patient at any moment and must resolve on its next reading.
	if res.Resolved() {
		r.cache.put(key, res)
	}
	return res, nil
}

// Flush empties the identity cache. Wired to the out-of-band admin
// cache-flush signal so device reassignments take effect immediately.
func (r *Resolver) Flush() {
	r.cache.flush()
}

func (r *Resolver) lookup(ctx context.Context, reading observation.Reading) (Resolution, error) {
	switch reading.Identity.Family {
	case observation.FamilyAVA4SubDevice:
		return r.lookupAVA4(ctx, reading)
	case observation.FamilyKatiWatch:
		return r.resolveOne(r.repo.PatientByIMEI)(ctx, reading.Identity.ID)
	case observation.FamilyQubeVital:
		return r.lookupQube(ctx, reading)
	default:
		return Resolution{Status: StatusUnresolved}, nil
	}
}

// lookupAVA4 tries the sub-device slot first, then falls back to the
// gateway MAC on the enclosing message.
func (r *Resolver) lookupAVA4(ctx context.Context, reading observation.Reading) (Resolution, error) {
	id, err := r.repo.PatientByDeviceMAC(ctx, reading.Kind, reading.Identity.ID)
	if err == nil {
		return Resolution{Status: StatusResolved, PatientID: id}, nil
	}
	if !errors.Is(err, ErrNoMapping) {
		return Resolution{Status: StatusUnresolved}, fmt.Errorf("device mac lookup: %w", err)
	}

	if reading.Identity.GatewayMAC == "" {
		return Resolution{Status: StatusUnresolved}, nil
	}
	id, err = r.repo.PatientByGatewayMAC(ctx, reading.Identity.GatewayMAC)
	if err == nil {
		return Resolution{Status: StatusResolved, PatientID: id}, nil
	}
	if errors.Is(err, ErrNoMapping) || errors.Is(err, ErrAmbiguousGateway) {
		return Resolution{Status: StatusUnresolved}, nil
	}
	return Resolution{Status: StatusUnresolved}, fmt.Errorf("gateway mac lookup: %w", err)
}

// lookupQube resolves by citizen ID, auto-provisioning an unregistered
// patient when the ID is unknown and the reading carries demographics.
func (r *Resolver) lookupQube(ctx context.Context, reading observation.Reading) (Resolution, error) {
	if reading.Hint == nil || reading.Hint.Citiz == "" {
		return Resolution{Status: StatusUnresolved}, nil
	}
	citiz := reading.Hint.Citiz

	id, err := r.repo.PatientByCitiz(ctx, citiz)
	if err == nil {
		return Resolution{Status: StatusResolved, PatientID: id}, nil
	}
	if !errors.Is(err, ErrNoMapping) {
		return Resolution{Status: StatusUnresolved}, fmt.Errorf("citiz lookup: %w", err)
	}

	id, err = r.repo.CreateUnregisteredPatient(ctx, *reading.Hint)
	if err == nil {
		r.logger.Info("auto-provisioned unregistered patient",
			"citiz", citiz,
			"patient_id", id,
		)
		return Resolution{Status: StatusAutoProvisioned, PatientID: id}, nil
	}

	// Lost the creation race: another reading provisioned this citizen
	// first. Re-read and report the existing patient.
	if errors.Is(err, ErrDuplicateCitiz) {
		id, err = r.repo.PatientByCitiz(ctx, citiz)
		if err != nil {
			return Resolution{Status: StatusUnresolved}, fmt.Errorf("citiz re-read after conflict: %w", err)
		}
		return Resolution{Status: StatusAutoProvisioned, PatientID: id}, nil
	}

	return Resolution{Status: StatusUnresolved}, fmt.Errorf("auto-provision: %w", err)
}

// resolveOne adapts a single-key repository lookup to the Resolution shape.
func (r *Resolver) resolveOne(fn func(context.Context, string) (string, error)) func(context.Context, string) (Resolution, error) {
	return func(ctx context.Context, key string) (Resolution, error) {
		id, err := fn(ctx, key)
		if err == nil {
			return Resolution{Status: StatusResolved, PatientID: id}, nil
		}
		if errors.Is(err, ErrNoMapping) {
			return Resolution{Status: StatusUnresolved}, nil
		}
		return Resolution{Status: StatusUnresolved}, err
	}
}

// cacheKey builds the identity cache key. AVA4 sub-devices include the
// kind because one MAC may occupy different per-kind slots.
func cacheKey(reading observation.Reading) string {
	if reading.Identity.Family == observation.FamilyAVA4SubDevice {
		return string(reading.Identity.Family) + "/" + reading.Identity.ID + "/" + string(reading.Kind)
	}
	return string(reading.Identity.Family) + "/" + reading.Identity.ID
}
