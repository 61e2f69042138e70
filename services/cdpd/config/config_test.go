package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "cdpd.yaml", `
policy: /etc/cdpd/policy.toml
admin:
  bearer_token: secret
  tls:
    cert: cert.pem
    key: key.pem
sources:
  - name: desk
    type: static
    prices:
      ETH: "2000.50"
oracle:
  max_age: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7081", cfg.ListenAddress)
	require.Equal(t, 90*time.Second, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, 5*time.Second, cfg.Oracle.Timeout.Duration)
	require.Equal(t, 3, cfg.Service.MaxRetries)
	require.Equal(t, "2000.50", cfg.Sources[0].Prices["ETH"])
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "cdpd.yaml", "policy: p.toml\nadmin:\n  tls:\n    disable: true\nsources: [{type: static}]\nlisten_addr: \":1\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "cdpd.yaml", "policy: p.toml\noracle:\n  max_age: soon\n")
	_, err := Load(path)
	require.ErrorContains(t, err, `parse duration "soon"`)
}

func TestValidateRequiresSourcesAndPolicy(t *testing.T) {
	cfg := Config{Sources: []Source{{Type: "static"}}}
	applyDefaults(&cfg)
	require.EqualError(t, validate(cfg), "policy path must be configured")

	cfg.PolicyPath = "policy.toml"
	cfg.Sources = nil
	require.EqualError(t, validate(cfg), "at least one oracle source must be configured")

	cfg.Sources = []Source{{Type: "static"}}
	cfg.Oracle.Timeout.Duration = time.Hour
	require.ErrorContains(t, validate(cfg), "exceeds max_age")
}

func TestAdminConfigNormalise(t *testing.T) {
	cfg := AdminConfig{MTLS: MTLSConfig{Enabled: true}, TLS: AdminTLSConfig{CertPath: "c", KeyPath: "k"}}
	require.EqualError(t, cfg.normalise(false), "mtls.client_ca must be configured when mTLS is enabled")

	cfg = AdminConfig{BearerToken: " secret ", TLS: AdminTLSConfig{Disable: true}}
	require.EqualError(t, cfg.normalise(false), "admin bearer_token requires TLS to be enabled")
	require.NoError(t, cfg.normalise(true))
	require.Equal(t, "secret", cfg.BearerToken)

	cfg = AdminConfig{}
	require.ErrorContains(t, cfg.normalise(false), "tls.cert and tls.key")
}

func TestAdminJWTSecretFromEnv(t *testing.T) {
	t.Setenv("CDPD_ADMIN_JWT", " from-env ")
	cfg := AdminConfig{JWT: JWTConfig{SecretEnv: "CDPD_ADMIN_JWT"}, TLS: AdminTLSConfig{CertPath: "c", KeyPath: "k"}}
	require.NoError(t, cfg.normalise(false))
	require.Equal(t, "from-env", cfg.JWT.Secret)

	cfg = AdminConfig{JWT: JWTConfig{Secret: "inline"}, TLS: AdminTLSConfig{Disable: true}}
	require.EqualError(t, cfg.normalise(false), "admin jwt requires TLS to be enabled")
}

const registryTOML = `
[policy]
LiquidationRatioBps = 15000
StabilityFeeBps = 200
PenaltyBps = 1000
RewardBps = 500

[collateral.eth]
PriceDecimals = 8

[collateral.eth.limits]
MinCollateralizationRatio = 15000
MaxDebtRatio = 6667
MinDebtAmount = "100"
MaxDebtAmount = "1000000000"
MinCollateralAmount = "1"
`

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry(registryTOML)
	require.NoError(t, err)
	require.Equal(t, []string{"ETH"}, reg.Symbols())

	eth, ok := reg.Lookup(" eth ")
	require.True(t, ok)
	require.EqualValues(t, 8, eth.PriceDecimals)
	require.EqualValues(t, 15000, eth.Limits.MinCollateralizationRatio)
	require.Equal(t, "1000000000", eth.Limits.MaxDebtAmount.String())
	require.NoError(t, eth.Limits.Validate())

	// Unset policy fields fall back to the defaults.
	require.EqualValues(t, 10000, reg.Policy.CloseFactorBps)
	require.EqualValues(t, 12000, reg.Policy.Status.WarningBps)

	_, ok = reg.Lookup("WBTC")
	require.False(t, ok)
}

func TestLoadRegistryFromFile(t *testing.T) {
	path := writeFile(t, "policy.toml", registryTOML)
	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, reg.Collateral, 1)
}

func TestParseRegistryRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":   registryTOML + "\n[collateral.eth.extra]\nFoo = 1\n",
		"no collateral": "[policy]\nPenaltyBps = 1000\n",
		"inverted debt range": `
[collateral.eth.limits]
MinCollateralizationRatio = 15000
MaxDebtRatio = 6667
MinDebtAmount = "500"
MaxDebtAmount = "100"
`,
		"duplicate symbol": `
[collateral.eth.limits]
MinCollateralizationRatio = 15000
MaxDebtRatio = 6667
MaxDebtAmount = "100"
[collateral.ETH.limits]
MinCollateralizationRatio = 15000
MaxDebtRatio = 6667
MaxDebtAmount = "100"
`,
		"negative amount": `
[collateral.eth.limits]
MinCollateralizationRatio = 15000
MaxDebtRatio = 6667
MaxDebtAmount = "-1"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry(body)
			require.Error(t, err)
		})
	}
}
