package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedConfig(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		expected  seedConfig
		expectErr bool
	}{
		{
			name:     "Defaults",
			expected: seedConfig{baseURL: "http://localhost:8080", resolver: "Cartman", resolve: true},
		},
		{
			name:     "FromEnv",
			env:      map[string]string{"SEED_API_URL": "http://api:9000", "SEED_RESOLVER": "Kyle", "SEED_RESOLVE": "false"},
			expected: seedConfig{baseURL: "http://api:9000", resolver: "Kyle", resolve: false},
		},
		{
			name:      "MalformedResolve",
			env:       map[string]string{"SEED_RESOLVE": "nope"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := loadSeedConfig()
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg)
		})
	}
}
