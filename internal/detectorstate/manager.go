// Package detectorstate keeps one streaming detector per fingerprint and
// makes it safe to share between concurrent workers.
package detectorstate

import (
	"errors"
	"fmt"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/spot"
)

// ErrNotCalibrated is returned by Predict for an unknown fingerprint.
var ErrNotCalibrated = errors.New("detector not calibrated")

// Manager creates detectors on first use and serializes their use.
type Manager struct {
	store  Store
	logger *logging.Logger
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:  store,
		logger: logging.GetLogger("detectorstate"),
	}
}

// FitIfAbsent fits a detector on batch and stores it under fp unless one is
// already stored. Concurrent callers for the same fingerprint fit exactly
// once; the others wait and reuse the stored detector. created reports
// whether this call fitted it.
func (m *Manager) FitIfAbsent(fp Fingerprint, params spot.Hyperparameters, batch spot.Series) (created bool, err error) {
	err = m.store.WithLock(fp, func(current *spot.Detector) (*spot.Detector, error) {
		if current != nil {
			return current, nil
		}
		d, err := spot.New(params)
		if err != nil {
			return nil, err
		}
		if err := d.Fit(batch); err != nil {
			return nil, fmt.Errorf("fit %s: %w", fp, err)
		}
		created = true
		return d, nil
	})
	if created {
		m.logger.Debug("fitted detector %s on %d observations", fp, len(batch.Values))
	}
	return created, err
}

// Predict runs s through the detector stored under fp. Calls for the same
// fingerprint never interleave, so each call sees the watermark left by the
// previous one.
func (m *Manager) Predict(fp Fingerprint, s spot.Series) (*spot.Prediction, error) {
	var pred *spot.Prediction
	err := m.store.WithLock(fp, func(current *spot.Detector) (*spot.Detector, error) {
		if current == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotCalibrated, fp)
		}
		p, err := current.Predict(s)
		if err != nil {
			return nil, err
		}
		pred = p
		return current, nil
	})
	return pred, err
}

// Len returns the number of live detectors.
func (m *Manager) Len() int {
	return m.store.Len()
}
