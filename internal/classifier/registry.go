package classifier

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/internal/models"
)

// Registry holds the loaded model for each detector behind an atomic
// pointer. Models are read-only after load; hot reload swaps the pointer so
// in-flight requests keep the version they started with. A nil slot means
// the detector runs rule-only.
type Registry struct {
	phishing atomic.Pointer[Model]
	quishing atomic.Pointer[Model]
	collect  atomic.Pointer[Model]
	malware  atomic.Pointer[Model]
}

// NewRegistry loads all four detector artifacts from modelDir. A missing or
// malformed artifact is logged and leaves that detector in rule-only mode;
// it is never fatal.
func NewRegistry(modelDir string) *Registry {
	r := &Registry{}
	r.ReloadFrom(modelDir)
	return r
}

// ReloadFrom re-reads every artifact and swaps the loaded ones in. Detectors
// whose artifact fails to load keep their previous model (or stay rule-only).
// Returns the number of detectors with a live model.
func (r *Registry) ReloadFrom(modelDir string) int {
	loaded := 0
	for _, detector := range []string{
		models.DetectorPhishing, models.DetectorQuishing,
		models.DetectorCollect, models.DetectorMalware,
	} {
		m, err := Load(ArtifactPath(modelDir, detector))
		if err != nil {
			log.Warn().Err(err).Str("detector", detector).Msg("Model artifact unavailable, detector stays rule-only")
			if r.Get(detector) != nil {
				loaded++
			}
			continue
		}
		r.slot(detector).Store(m)
		loaded++
		log.Info().Str("detector", detector).Str("version", m.Version()).Msg("Model loaded")
	}
	return loaded
}

// Get returns the current model for a detector, nil when rule-only.
func (r *Registry) Get(detector string) *Model {
	if s := r.slot(detector); s != nil {
		return s.Load()
	}
	return nil
}

// ReadyCount returns how many detectors have a live model.
func (r *Registry) ReadyCount() int {
	n := 0
	for _, d := range []string{
		models.DetectorPhishing, models.DetectorQuishing,
		models.DetectorCollect, models.DetectorMalware,
	} {
		if r.Get(d) != nil {
			n++
		}
	}
	return n
}

func (r *Registry) slot(detector string) *atomic.Pointer[Model] {
	switch detector {
	case models.DetectorPhishing:
		return &r.phishing
	case models.DetectorQuishing:
		return &r.quishing
	case models.DetectorCollect:
		return &r.collect
	case models.DetectorMalware:
		return &r.malware
	}
	return nil
}
