package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/scenario"
)

// ScenarioDefaults fill in the values a scenario document omits.
type ScenarioDefaults struct {
	LowThreshold         float64
	MediumThreshold      float64
	HighThreshold        float64
	AnomaliesNumInPeriod int
}

// LoadScenariosFile parses the scenario document at path.
//
//	scenarios:
//	  - name: brute_force
//	    root_cause: credential_stuffing
//	    low_threshold: 0.3
//	    metrics:
//	      - name: failed_logins
//	        weight: 0.6
//	        anomalies_num_in_period: 3
//	      - failed_connections
//
// A metric may be a bare name. Malformed scenarios and metrics are dropped
// one by one with an error log. Zero weights share the residual weight. An
// error is returned only when the document itself cannot be read or parsed.
func LoadScenariosFile(path string, defaults ScenarioDefaults) ([]scenario.Scenario, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load scenarios from %q: %w", path, err)
	}
	return parseScenarios(k, defaults, logging.GetLogger("config.scenarios").WithField("file", path)), nil
}

func parseScenarios(k *koanf.Koanf, defaults ScenarioDefaults, logger *logging.Logger) []scenario.Scenario {
	raw, ok := k.Get("scenarios").([]interface{})
	if !ok {
		if k.Exists("scenarios") {
			logger.Error("scenarios must be a list, ignoring document")
		}
		return []scenario.Scenario{}
	}

	entries := k.Slices("scenarios")
	out := make([]scenario.Scenario, 0, len(entries))
	next := 0
	for i, item := range raw {
		if _, isMap := item.(map[string]interface{}); !isMap {
			logger.Error("scenario #%d is not a mapping, dropping it", i)
			continue
		}
		sk := entries[next]
		next++

		s, err := parseScenario(sk, defaults, logger)
		if err != nil {
			logger.Error("scenario #%d dropped: %v", i, err)
			continue
		}
		if err := s.AddMissingWeight(); err != nil {
			logger.ErrorWithErr("weight auto-distribution skipped", err)
		}
		out = append(out, s)
	}
	return out
}

func parseScenario(sk *koanf.Koanf, defaults ScenarioDefaults, logger *logging.Logger) (scenario.Scenario, error) {
	s := scenario.Scenario{
		Name:            sk.String("name"),
		RootCause:       sk.String("root_cause"),
		LowThreshold:    defaults.LowThreshold,
		MediumThreshold: defaults.MediumThreshold,
		HighThreshold:   defaults.HighThreshold,
	}
	if s.Name == "" {
		return s, errors.New("missing name")
	}
	if sk.Exists("low_threshold") {
		s.LowThreshold = sk.Float64("low_threshold")
	}
	if sk.Exists("medium_threshold") {
		s.MediumThreshold = sk.Float64("medium_threshold")
	}
	if sk.Exists("high_threshold") {
		s.HighThreshold = sk.Float64("high_threshold")
	}
	if s.LowThreshold < 0 || s.LowThreshold > s.MediumThreshold || s.MediumThreshold > s.HighThreshold {
		return s, fmt.Errorf("%s: thresholds %g/%g/%g are not ordered", s.Name, s.LowThreshold, s.MediumThreshold, s.HighThreshold)
	}

	raw, _ := sk.Get("metrics").([]interface{})
	maps := sk.Slices("metrics")
	next := 0
	for j, item := range raw {
		var m scenario.Metric
		switch v := item.(type) {
		case string:
			m = scenario.Metric{Name: v}
		case map[string]interface{}:
			mk := maps[next]
			next++
			m = scenario.Metric{
				Name:                 mk.String("name"),
				Weight:               mk.Float64("weight"),
				AnomaliesNumInPeriod: mk.Int("anomalies_num_in_period"),
			}
		default:
			logger.Error("%s: metric #%d is neither a name nor a mapping, dropping it", s.Name, j)
			continue
		}

		if m.Name == "" {
			logger.Error("%s: metric #%d has no name, dropping it", s.Name, j)
			continue
		}
		if m.Weight < 0 || m.Weight > 1 {
			logger.Error("%s: metric %s has weight %g outside [0, 1], dropping it", s.Name, m.Name, m.Weight)
			continue
		}
		if m.AnomaliesNumInPeriod <= 0 {
			m.AnomaliesNumInPeriod = defaults.AnomaliesNumInPeriod
		}
		s.Metrics = append(s.Metrics, m)
	}
	if len(s.Metrics) == 0 {
		return s, fmt.Errorf("%s: no valid metrics", s.Name)
	}
	return s, nil
}
