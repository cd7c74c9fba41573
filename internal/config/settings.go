package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds the static, operator-tunable knobs that don't belong in
// per-environment secrets: gateway fallbacks, verification strictness, batch
// and retry tuning. Loaded from YAML, the way the teacher's
// pkg/config/anchor_config.go layers a YAML-driven AnchorConfig on top of
// its env-driven Config.
type Settings struct {
	Environment string `yaml:"environment"`

	ContentStore ContentStoreSettings `yaml:"content_store"`
	Chain        ChainSettings        `yaml:"chain"`
	Verification VerificationSettings `yaml:"verification"`
	RateLimit    RateLimitSettings    `yaml:"rate_limit"`
}

type ContentStoreSettings struct {
	FallbackGateways []string      `yaml:"fallback_gateways"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
	RetrieveTimeout  time.Duration `yaml:"retrieve_timeout"`
}

type ChainSettings struct {
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	ReceiptWaitTimeout  time.Duration `yaml:"receipt_wait_timeout"`
	GasEstimateMargin   float64       `yaml:"gas_estimate_margin"`
	EventScanBatchBlocks uint64       `yaml:"event_scan_batch_blocks"`
	EventScanMaxBlocks  uint64        `yaml:"event_scan_max_blocks"`
}

type VerificationSettings struct {
	RequireTxSenderMatch bool `yaml:"require_tx_sender_match"`
}

type RateLimitSettings struct {
	WalletRequestsPerMinute int `yaml:"wallet_requests_per_minute"`
}

// DefaultSettings mirrors spec.md's stated defaults (90s IPFS timeout, ~10s
// chain reads, 1000-block event scan batches).
func DefaultSettings() *Settings {
	return &Settings{
		Environment: "development",
		ContentStore: ContentStoreSettings{
			FallbackGateways: []string{
				"https://{cid}.ipfs.w3s.link",
				"https://{cid}.ipfs.dweb.link",
			},
			UploadTimeout:   90 * time.Second,
			RetrieveTimeout: 90 * time.Second,
		},
		Chain: ChainSettings{
			ReadTimeout:          10 * time.Second,
			ReceiptWaitTimeout:   2 * time.Minute,
			GasEstimateMargin:    1.2,
			EventScanBatchBlocks: 1000,
			EventScanMaxBlocks:   50000,
		},
		Verification: VerificationSettings{
			RequireTxSenderMatch: true,
		},
		RateLimit: RateLimitSettings{
			WalletRequestsPerMinute: 120,
		},
	}
}

// LoadSettings reads a YAML settings file, substituting ${VAR_NAME} and
// ${VAR_NAME:-default} references against the process environment before
// parsing — the same substitution grammar the teacher's
// substituteEnvVars implements.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	cfg := DefaultSettings()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
