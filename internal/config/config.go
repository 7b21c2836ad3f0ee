package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// EngineConfig configures the swap orchestration engine and its decode
// operations. Values come from env vars with a yaml config-file fallback.
type EngineConfig struct {
	RPCURL     string
	Commitment rpc.CommitmentType

	KeypairPath    string
	VaultProgramID solana.PublicKey
	USDCMint       solana.PublicKey

	JupiterBaseURL  string
	JupiterPriceURL string
	HTTPTimeout     time.Duration
	ExcludeDexes    []string
	SlippageBps     int

	BatchSize        int
	QuoteMaxAttempts int
	SendMaxAttempts  int
	RetryBaseDelay   time.Duration

	ConfirmPollAttempts int
	ConfirmPollInterval time.Duration
	FetchTxAttempts     int
	FetchTxInterval     time.Duration

	MinOperatorBalanceLamports uint64
	SkipPreflight              bool
	MaxRetries                 *uint

	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TaskQueueSize int

	Log LogConfig
}

var (
	defaultVaultProgramID = solana.MustPublicKeyFromBase58("5tAdLifeaGj3oUVVpr7gG5ntjW6c2Lg3sY2ftBCi8MkZ")
	defaultUSDCMint       = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	defaultJupiterBaseURL  = "https://lite-api.jup.ag/swap/v1"
	defaultJupiterPriceURL = "https://lite-api.jup.ag/price/v3"
)

func LoadEngineConfig() (EngineConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return EngineConfig{}, err
	}

	keypairPath := envOrDefault("ENGINE_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	keypairPath = maybeUseLocalSecretKeypair(keypairPath)
	expandedKeypair, err := expandHomePath(keypairPath)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return EngineConfig{}, err
	}

	vaultProgramID, err := envPubkey("VAULT_PROGRAM_ID", defaultVaultProgramID)
	if err != nil {
		return EngineConfig{}, err
	}
	usdcMint, err := envPubkey("USDC_MINT", defaultUSDCMint)
	if err != nil {
		return EngineConfig{}, err
	}

	httpTimeout, err := envDuration("ENGINE_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return EngineConfig{}, err
	}
	slippageBps, err := envInt("ENGINE_SLIPPAGE_BPS", 50)
	if err != nil {
		return EngineConfig{}, err
	}

	batchSize, err := envInt("ENGINE_BATCH_SIZE", 5)
	if err != nil {
		return EngineConfig{}, err
	}
	quoteMaxAttempts, err := envInt("ENGINE_QUOTE_MAX_ATTEMPTS", 3)
	if err != nil {
		return EngineConfig{}, err
	}
	sendMaxAttempts, err := envInt("ENGINE_SEND_MAX_ATTEMPTS", 3)
	if err != nil {
		return EngineConfig{}, err
	}
	retryBaseDelay, err := envDuration("ENGINE_RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return EngineConfig{}, err
	}

	confirmPollAttempts, err := envInt("ENGINE_CONFIRM_POLL_ATTEMPTS", 30)
	if err != nil {
		return EngineConfig{}, err
	}
	confirmPollInterval, err := envDuration("ENGINE_CONFIRM_POLL_INTERVAL", time.Second)
	if err != nil {
		return EngineConfig{}, err
	}
	fetchTxAttempts, err := envInt("ENGINE_FETCH_TX_ATTEMPTS", 10)
	if err != nil {
		return EngineConfig{}, err
	}
	fetchTxInterval, err := envDuration("ENGINE_FETCH_TX_INTERVAL", 2*time.Second)
	if err != nil {
		return EngineConfig{}, err
	}

	minOperatorBalance, err := envUint64("ENGINE_MIN_OPERATOR_BALANCE_LAMPORTS", 50_000_000)
	if err != nil {
		return EngineConfig{}, err
	}
	skipPreflight, err := envBool("ENGINE_SKIP_PREFLIGHT", false)
	if err != nil {
		return EngineConfig{}, err
	}
	maxRetries, err := envOptionalUint("ENGINE_SEND_MAX_RPC_RETRIES")
	if err != nil {
		return EngineConfig{}, err
	}

	redisDB, err := envIntAllowZero("REDIS_DB", 0)
	if err != nil {
		return EngineConfig{}, err
	}
	taskQueueSize, err := envInt("ENGINE_TASK_QUEUE_SIZE", 256)
	if err != nil {
		return EngineConfig{}, err
	}

	return EngineConfig{
		RPCURL:     envOrDefault("SOLANA_RPC_URL", "http://127.0.0.1:8899"),
		Commitment: commitment,

		KeypairPath:    expandedKeypair,
		VaultProgramID: vaultProgramID,
		USDCMint:       usdcMint,

		JupiterBaseURL:  envOrDefault("JUPITER_BASE_URL", defaultJupiterBaseURL),
		JupiterPriceURL: envOrDefault("JUPITER_PRICE_URL", defaultJupiterPriceURL),
		HTTPTimeout:     httpTimeout,
		ExcludeDexes:    parseCSVEnv(envOrDefault("ENGINE_EXCLUDE_DEXES", ""), nil),
		SlippageBps:     slippageBps,

		BatchSize:        batchSize,
		QuoteMaxAttempts: quoteMaxAttempts,
		SendMaxAttempts:  sendMaxAttempts,
		RetryBaseDelay:   retryBaseDelay,

		ConfirmPollAttempts: confirmPollAttempts,
		ConfirmPollInterval: confirmPollInterval,
		FetchTxAttempts:     fetchTxAttempts,
		FetchTxInterval:     fetchTxInterval,

		MinOperatorBalanceLamports: minOperatorBalance,
		SkipPreflight:              skipPreflight,
		MaxRetries:                 maxRetries,

		DBDSN:         envOrDefault("ENGINE_DB_DSN", ""),
		RedisAddr:     envOrDefault("REDIS_ADDR", ""),
		RedisPassword: envOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,
		TaskQueueSize: taskQueueSize,

		Log: buildLogConfig("ENGINE", "vault-admin"),
	}, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return v, nil
}

func envIntAllowZero(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return v, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOptionalUint(key string) (*uint, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	out := uint(v)
	return &out, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}

func maybeUseLocalSecretKeypair(current string) string {
	expandedCurrent, err := expandHomePath(current)
	if err != nil {
		return current
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return current
	}
	defaultHomePath := filepath.Join(homeDir, ".config", "solana", "id.json")
	if filepath.Clean(expandedCurrent) != filepath.Clean(defaultHomePath) {
		return current
	}

	for _, candidate := range []string{
		"../.local/secret/operator-wallet.json",
		".local/secret/operator-wallet.json",
	} {
		absoluteCandidate, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		info, err := os.Stat(absoluteCandidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		return absoluteCandidate
	}

	return current
}
