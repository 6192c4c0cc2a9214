package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelFlags(t *testing.T) {
	tests := []struct {
		name         string
		flags        []string
		env          []string
		wantDefault  string
		wantPackages map[string]string
		wantErr      bool
	}{
		{
			name:         "plain default",
			flags:        []string{"debug"},
			wantDefault:  "debug",
			wantPackages: map[string]string{},
		},
		{
			name:         "explicit default and package",
			flags:        []string{"default=warn", "pipeline=debug"},
			wantDefault:  "warn",
			wantPackages: map[string]string{"pipeline": "debug"},
		},
		{
			name:         "env sets package levels",
			flags:        []string{"info"},
			env:          []string{"LOG_LEVEL_CONFIG_SCENARIOS=debug", "HOME=/root"},
			wantDefault:  "info",
			wantPackages: map[string]string{"config.scenarios": "debug"},
		},
		{
			name:         "flags override env",
			flags:        []string{"scenario=error"},
			env:          []string{"LOG_LEVEL_SCENARIO=debug"},
			wantDefault:  "info",
			wantPackages: map[string]string{"scenario": "error"},
		},
		{
			name:    "invalid default",
			flags:   []string{"verbose"},
			wantErr: true,
		},
		{
			name:    "invalid package level",
			flags:   []string{"pipeline=loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, pkgs, err := parseLogLevelFlags(tt.flags, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, def)
			assert.Equal(t, tt.wantPackages, pkgs)
		})
	}
}
