package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppConfig(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		expected    AppConfig
		errContains string
	}{
		{
			name: "all variables set",
			env: map[string]string{
				envAppServiceName:    "admin-console",
				envAppServiceVersion: "1.4.0",
				envAppEnv:            "staging",
			},
			expected: AppConfig{ServiceName: "admin-console", ServiceVersion: "1.4.0", Environment: "staging"},
		},
		{
			name: "environment defaults to local",
			env: map[string]string{
				envAppServiceName:    "admin-console",
				envAppServiceVersion: "1.4.0",
			},
			expected: AppConfig{ServiceName: "admin-console", ServiceVersion: "1.4.0", Environment: defaultEnvironment},
		},
		{
			name:        "missing service name",
			env:         map[string]string{envAppServiceVersion: "1.4.0"},
			errContains: envAppServiceName,
		},
		{
			name:        "missing service version",
			env:         map[string]string{envAppServiceName: "admin-console"},
			errContains: envAppServiceVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			for _, key := range []string{envAppEnv, envAppServiceName, envAppServiceVersion} {
				t.Setenv(key, tt.env[key])
			}

			// Act
			cfg, err := newAppConfig()

			// Assert
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg)
		})
	}
}
