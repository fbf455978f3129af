// Command tenderlight verifies a header chain against a primary node,
// cross-checks it with witnesses, and prints the verified header. It is a
// thin operator shell around the light client supervisor.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	dbm "github.com/tendermint/tm-db"

	"github.com/tenderlight/tenderlight/libs/log"
	tmmath "github.com/tenderlight/tenderlight/libs/math"
	"github.com/tenderlight/tenderlight/light"
	"github.com/tenderlight/tenderlight/provider"
	dbs "github.com/tenderlight/tenderlight/store/db"
	"github.com/tenderlight/tenderlight/types"
)

// Exit codes, stable for scripting.
const (
	exitOK           = 0
	exitVerification = 1
	exitForkDetected = 2
	exitConfig       = 3
	exitNoWitnesses  = 4
	exitTimeout      = 5
)

var (
	chainID            string
	primaryAddr        string
	witnessAddrsJoined string
	trustingPeriod     time.Duration
	trustedHeight      int64
	trustedHash        string
	trustLevelStr      string
	clockDrift         time.Duration
	maxRetries         uint16
	storePath          string
	logLevel           string
	logFormat          string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:   "tenderlight [height]",
		Short: "verify a block header at the given height (or the latest) against a trust root",
		Long: `tenderlight connects to a primary full node, verifies the header chain from an
operator-supplied trust root up to the requested height using skipping
verification with bisection, and cross-checks the result against a set of
witness nodes before printing the verified header as JSON.

The trust root (--height and --hash) must be obtained out of band from a
source the operator trusts. On subsequent runs the persisted store serves as
the root and the flags may be omitted.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runVerify,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fs := rootCmd.Flags()
	fs.StringVar(&chainID, "chain-id", "", "chain id of the network to verify")
	fs.StringVar(&primaryAddr, "primary", "", "RPC address of the primary full node")
	fs.StringVar(&witnessAddrsJoined, "witnesses", "", "comma-separated RPC addresses of witness nodes")
	fs.DurationVar(&trustingPeriod, "trusting-period", 168*time.Hour,
		"trusting period; should be no more than 2/3 of the unbonding period")
	fs.Int64Var(&trustedHeight, "height", 0, "trusted header's height")
	fs.StringVar(&trustedHash, "hash", "", "trusted header's hash (hex)")
	fs.StringVar(&trustLevelStr, "trust-level", "1/3",
		"fraction of the trusted validator set that must sign a skipped-to header")
	fs.DurationVar(&clockDrift, "clock-drift", 0, "tolerated drift between the local clock and block times")
	fs.Uint16Var(&maxRetries, "max-retries-per-peer", 3, "retries per peer on timeout or transport failure")
	fs.StringVar(&storePath, "store-path", defaultStorePath(), "directory for the light block store")
	fs.StringVar(&logLevel, "log-level", log.LogLevelInfo, "log level (debug|info|error)")
	fs.StringVar(&logFormat, "log-format", log.LogFormatPlain, "log format (plain|json)")
	fs.String("config", "", "path to a TOML config file; flags override it")

	if err := bindConfig(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tenderlight:", err)
		return exitCode(err)
	}
	return exitOK
}

// bindConfig lets every flag be supplied from a TOML file or the TENDERLIGHT_*
// environment, with the flag value winning.
func bindConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("TENDERLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if cfg := v.GetString("config"); cfg != "" {
			v.SetConfigFile(cfg)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return configError{fmt.Errorf("reading %s: %w", cfg, err)}
			}
		}
		chainID = v.GetString("chain-id")
		primaryAddr = v.GetString("primary")
		witnessAddrsJoined = v.GetString("witnesses")
		trustingPeriod = v.GetDuration("trusting-period")
		trustedHeight = v.GetInt64("height")
		trustedHash = v.GetString("hash")
		trustLevelStr = v.GetString("trust-level")
		clockDrift = v.GetDuration("clock-drift")
		maxRetries = uint16(v.GetUint32("max-retries-per-peer"))
		storePath = v.GetString("store-path")
		logLevel = v.GetString("log-level")
		logFormat = v.GetString("log-format")
		return nil
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger, err := log.NewDefaultLogger(logFormat, logLevel)
	if err != nil {
		return configError{err}
	}

	if chainID == "" {
		return configError{errors.New("--chain-id is required")}
	}
	if primaryAddr == "" {
		return configError{errors.New("--primary is required")}
	}
	witnessAddrs := splitAndTrimEmpty(witnessAddrsJoined, ",")
	if len(witnessAddrs) == 0 {
		return configError{errors.New("at least one witness is required (--witnesses)")}
	}

	trustLevel, err := tmmath.ParseFraction(trustLevelStr)
	if err != nil {
		return configError{fmt.Errorf("parsing trust level: %w", err)}
	}
	if err := light.ValidateTrustThreshold(trustLevel); err != nil {
		return configError{err}
	}

	var targetHeight int64
	if len(args) == 1 {
		if _, err := fmt.Sscanf(args[0], "%d", &targetHeight); err != nil || targetHeight <= 0 {
			return configError{fmt.Errorf("invalid height %q", args[0])}
		}
	}

	if err := os.MkdirAll(storePath, 0o700); err != nil {
		return configError{fmt.Errorf("creating store directory: %w", err)}
	}
	db, err := dbm.NewGoLevelDB("light-client-db", storePath)
	if err != nil {
		return configError{fmt.Errorf("opening store: %w", err)}
	}
	defer db.Close()
	blockStore := dbs.New(db)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	options := []light.Option{
		light.WithLogger(logger),
		light.TrustLevel(trustLevel),
		light.MaxClockDrift(clockDrift),
		light.MaxRetryAttempts(maxRetries),
	}

	var c *light.Client
	if trustedHeight > 0 || trustedHash != "" {
		hash, err := hex.DecodeString(strings.TrimPrefix(trustedHash, "0x"))
		if err != nil {
			return configError{fmt.Errorf("invalid trust hash: %w", err)}
		}
		c, err = light.NewHTTPClient(ctx, chainID,
			light.TrustOptions{Period: trustingPeriod, Height: trustedHeight, Hash: hash},
			primaryAddr, witnessAddrs, blockStore, options...)
		if err != nil {
			return err
		}
	} else {
		c, err = light.NewHTTPClientFromTrustedStore(chainID, trustingPeriod,
			primaryAddr, witnessAddrs, blockStore, options...)
		if err != nil {
			return err
		}
	}

	block, err := verify(ctx, c, targetHeight)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(block.SignedHeader, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	logger.Info("verified", "height", block.Height, "hash", log.NewHexadecimal(block.Hash()))
	return nil
}

func verify(ctx context.Context, c *light.Client, height int64) (*types.LightBlock, error) {
	if height == 0 {
		return c.VerifyToLatest(ctx)
	}
	return c.VerifyToHeight(ctx, height)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tenderlight"
	}
	return filepath.Join(home, ".tenderlight")
}

func splitAndTrimEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// configError marks operator mistakes so they map to their own exit code.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var (
		cfgErr  configError
		forkErr light.ErrForkDetected
		toErr   provider.ErrTimeout
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &forkErr):
		return exitForkDetected
	case errors.Is(err, light.ErrNoWitnessesLeft), errors.Is(err, light.ErrNoWitnesses):
		return exitNoWitnesses
	case errors.As(err, &toErr), errors.Is(err, context.DeadlineExceeded):
		return exitTimeout
	default:
		return exitVerification
	}
}
