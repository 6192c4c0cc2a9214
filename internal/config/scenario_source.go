package config

import (
	"os"
	"slices"
	"sync"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/scenario"
)

// ScenarioSource serves the scenario document, re-reading it only when its
// modification time has advanced past the last load.
type ScenarioSource struct {
	path     string
	defaults ScenarioDefaults
	logger   *logging.Logger

	mu        sync.Mutex
	loaded    bool
	modTime   time.Time
	scenarios []scenario.Scenario
}

// NewScenarioSource returns a source for the document at path.
func NewScenarioSource(path string, defaults ScenarioDefaults) *ScenarioSource {
	return &ScenarioSource{
		path:     path,
		defaults: defaults,
		logger:   logging.GetLogger("config.scenarios").WithField("file", path),
	}
}

// Path returns the document path.
func (s *ScenarioSource) Path() string {
	return s.path
}

// Scenarios returns the current scenarios. A document that cannot be
// parsed yields an empty list; a document that cannot be stat'ed keeps the
// last list.
func (s *ScenarioSource) Scenarios() []scenario.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		s.logger.ErrorWithErr("cannot stat scenario file", err)
		return slices.Clone(s.scenarios)
	}
	if s.loaded && !info.ModTime().After(s.modTime) {
		return slices.Clone(s.scenarios)
	}
	s.load(info.ModTime())
	return slices.Clone(s.scenarios)
}

// Reload re-reads the document regardless of its modification time and
// returns the error of an unreadable document.
func (s *ScenarioSource) Reload() ([]scenario.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return slices.Clone(s.scenarios), err
	}
	err = s.load(info.ModTime())
	return slices.Clone(s.scenarios), err
}

func (s *ScenarioSource) load(modTime time.Time) error {
	scenarios, err := LoadScenariosFile(s.path, s.defaults)
	if err != nil {
		s.logger.ErrorWithErr("scenario file unusable, no scenarios are active", err)
		scenarios = []scenario.Scenario{}
	} else {
		s.logger.Info("loaded %d scenarios", len(scenarios))
	}
	s.scenarios = scenarios
	s.modTime = modTime
	s.loaded = true
	return err
}
