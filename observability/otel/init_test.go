package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken,, =empty,tenant=cdpd")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "cdpd"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " collector:4318 ")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-token=abc")

	cfg := ConfigFromEnv("cdpd", "test")
	require.Equal(t, "cdpd", cfg.ServiceName)
	require.Equal(t, "test", cfg.Environment)
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.False(t, cfg.Insecure)
	require.Equal(t, "abc", cfg.Headers["x-token"])
	require.True(t, cfg.Metrics)
	require.True(t, cfg.Traces)
}

func TestConfigFromEnvDefaultsInsecure(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "not-a-bool")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
	cfg := ConfigFromEnv("cdpd", "")
	require.True(t, cfg.Insecure)
	require.Zero(t, cfg.SampleRatio)
}

func TestSamplerRatio(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg := ConfigFromEnv("cdpd", "")
	require.Equal(t, 0.25, cfg.SampleRatio)
	require.Contains(t, sampler(cfg.SampleRatio).Description(), "TraceIDRatioBased{0.25}")
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}
