package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/defimarkets/vault-backend/internal/cache"
	"github.com/defimarkets/vault-backend/internal/config"
	"github.com/defimarkets/vault-backend/internal/ledger"
	"github.com/defimarkets/vault-backend/internal/logging"
	"github.com/defimarkets/vault-backend/internal/orchestrator"
	"github.com/defimarkets/vault-backend/internal/tasks"
)

const usage = `Usage: vault-admin <command> [flags]

Commands:
  swap         rebalance a vault reserve into its underlying assets
  redeem       liquidate underlying assets to cover a share redemption
  decode       decode the events emitted by a transaction
  decode-fees  decode a fee-update transaction and persist the new schedule
`

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("vault-admin", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	collab, cleanup, err := buildCollaborators(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize collaborators", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	svc, err := orchestrator.NewFromConfig(cfg, collab, logger)
	if err != nil {
		logger.Error("failed to initialize orchestration engine", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, svc, command, os.Args[2:], logger); err != nil {
		logger.Error("command failed", "command", command, "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *orchestrator.Service, command string, args []string, logger *slog.Logger) error {
	switch command {
	case "swap":
		flags := flag.NewFlagSet("swap", flag.ExitOnError)
		vaultIndex := flags.Uint("vault", 0, "vault index")
		amount := flags.Uint64("amount", 0, "stablecoin amount in raw units, net of entry fee")
		_ = flags.Parse(args)

		result, err := svc.ExecuteAdminSwap(ctx, uint32(*vaultIndex), *amount)
		if err != nil {
			return err
		}
		return printJSON(result)

	case "redeem":
		flags := flag.NewFlagSet("redeem", flag.ExitOnError)
		vaultIndex := flags.Uint("vault", 0, "vault index")
		shares := flags.Uint64("shares", 0, "vault token amount, 1e6 scaled")
		sharePrice := flags.Uint64("share-price", 0, "share price in stablecoin units per share, 1e6 scaled")
		_ = flags.Parse(args)

		result, err := svc.ExecuteRedeemSwapAdmin(ctx, uint32(*vaultIndex), *shares, *sharePrice)
		if err != nil {
			return err
		}
		return printJSON(result)

	case "decode":
		sig, err := signatureArg(args)
		if err != nil {
			return err
		}
		decoded, err := svc.DecodeTransaction(ctx, sig)
		if err != nil {
			return err
		}
		for _, ev := range decoded {
			logger.Info("decoded event", "event", ev.EventName())
		}
		return printJSON(decoded)

	case "decode-fees":
		sig, err := signatureArg(args)
		if err != nil {
			return err
		}
		fees, err := svc.DecodeFactoryFeesEvent(ctx, sig)
		if err != nil {
			return err
		}
		return printJSON(fees)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func signatureArg(args []string) (solana.Signature, error) {
	flags := flag.NewFlagSet("decode", flag.ExitOnError)
	raw := flags.String("signature", "", "transaction signature")
	_ = flags.Parse(args)
	if *raw == "" && flags.NArg() > 0 {
		*raw = flags.Arg(0)
	}
	if *raw == "" {
		return solana.Signature{}, fmt.Errorf("a transaction signature is required")
	}
	sig, err := solana.SignatureFromBase58(*raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("parse signature %q: %w", *raw, err)
	}
	return sig, nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// buildCollaborators wires the optional postgres, redis and background-queue
// pieces. Everything degrades to a no-op when unconfigured.
func buildCollaborators(cfg config.EngineConfig, logger *slog.Logger) (orchestrator.Collaborators, func(), error) {
	var collab orchestrator.Collaborators
	var closers []func()

	if cfg.DBDSN != "" {
		store, err := ledger.NewStore(cfg.DBDSN)
		if err != nil {
			return collab, func() {}, fmt.Errorf("connect ledger store: %w", err)
		}
		collab.Assets = store
		collab.Vaults = store
		collab.Fees = store
		collab.Audit = store
		collab.Failures = store
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close ledger store", "err", err)
			}
		})
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		collab.Invalidator = cache.NewInvalidator(client, logger)
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", "err", err)
			}
		})
	}

	queue := tasks.NewQueue(cfg.TaskQueueSize, logger)
	collab.Queue = queue
	closers = append(closers, queue.Close)

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return collab, cleanup, nil
}
