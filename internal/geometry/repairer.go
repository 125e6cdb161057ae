package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/geomonitor/prodes-ingest/internal/normalize"
	"github.com/paulmach/orb"
)

var ErrUnknownMode = errors.New("unknown repair mode")

// Repairer validates and repairs the geometry of a record in place.
// A record that is still invalid after one pass is rejected with *Error.
type Repairer interface {
	// Name returns the strategy name for logging purposes.
	Name() string
	Repair(ctx context.Context, rec *normalize.Record) (*normalize.Record, error)
}

// Mode selects a Repairer implementation.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModePostGIS Mode = "postgis"
)

// NewRepairer builds the Repairer for mode. The querier is only used by
// the postgis mode and may be nil otherwise.
func NewRepairer(mode Mode, pool Querier) (Repairer, error) {
	switch mode {
	case ModeLocal, "":
		return LocalRepairer{}, nil
	case ModePostGIS:
		if pool == nil {
			return nil, fmt.Errorf("%s repairer needs a database pool", mode)
		}
		return NewPostGISRepairer(pool), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}

// Error reports a geometry rejected by the repairer.
type Error struct {
	FeatureID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("repair geometry of %q: %v", e.FeatureID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// repairWith runs fix on an invalid geometry and checks the result.
// Valid input is returned untouched. Panics from fix count as rejection.
func repairWith(rec *normalize.Record, fix func(orb.Geometry) (orb.Geometry, error), check func(orb.Geometry) error) (out *normalize.Record, err error) {
	if rec == nil {
		return nil, &Error{Err: ErrEmpty}
	}
	if IsValid(rec.Geometry) {
		return rec, nil
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &Error{FeatureID: rec.ID, Err: fmt.Errorf("panic during repair: %v", p)}
		}
	}()

	fixed, err := fix(rec.Geometry)
	if err != nil {
		return nil, &Error{FeatureID: rec.ID, Err: err}
	}
	if err := check(fixed); err != nil {
		return nil, &Error{FeatureID: rec.ID, Err: fmt.Errorf("still invalid after repair: %w", err)}
	}
	rec.Geometry = fixed
	return rec, nil
}
