package telemetry

import (
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalscan/scan-common/build"
	"github.com/vitalscan/scan-common/envutil"
	"github.com/vitalscan/scan-common/logger"
)

func TestLoadConfigFromEnv_EndpointDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		env              map[string]string
		expectedEndpoint string
	}{
		{
			name:             "kubernetes detected",
			env:              map[string]string{"KUBERNETES_SERVICE_HOST": "10.0.0.1"},
			expectedEndpoint: defaultK8sEndpoint,
		},
		{
			name:             "outside kubernetes",
			env:              map[string]string{"KUBERNETES_SERVICE_HOST": ""},
			expectedEndpoint: "",
		},
		{
			name: "custom endpoint overrides cluster default",
			env: map[string]string{
				"KUBERNETES_SERVICE_HOST":     "10.0.0.1",
				"OTEL_EXPORTER_OTLP_ENDPOINT": "http://custom-collector:4318",
			},
			expectedEndpoint: "http://custom-collector:4318",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			ctx := envutil.WithEnvOverrides(t.Context(), test.env)

			config, err := LoadConfigFromEnv(ctx, "dev")
			require.NoError(t, err)
			assert.Equal(t, test.expectedEndpoint, config.Endpoint)
			assert.Equal(t, "dev", config.Environment)
		})
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Parallel()

	ctx := logger.WithSubsystem(t.Context(), "scanprobe")
	ctx = envutil.WithEnvOverrides(ctx, map[string]string{
		"OTEL_ENABLED":               "true",
		"OTEL_LOGS_ENABLED":          "true",
		"OTEL_EXPORTER_OTLP_TIMEOUT": "2s",
	})

	config, err := LoadConfigFromEnv(ctx, "prod")
	require.NoError(t, err)

	assert.True(t, config.Enabled)
	assert.True(t, config.ExportLogs)
	assert.Equal(t, 2*time.Second, config.Timeout)
	assert.Equal(t, build.Current().Version, config.ServiceVersion)
}

func TestInitialize_Disabled(t *testing.T) {
	t.Parallel()

	ctx := logger.WithLogger(t.Context(), slogt.New(t))

	providers, err := Initialize(ctx, &Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, providers.LogHandler())
	require.NoError(t, providers.Shutdown(ctx))

	providers, err = Initialize(ctx, &Config{Enabled: true})
	require.NoError(t, err)
	assert.Nil(t, providers.LogHandler())

	var nilProviders *Providers
	require.NoError(t, nilProviders.Shutdown(ctx))
}
