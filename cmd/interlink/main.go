// Command interlink is the operator CLI for the bundle accounting engine:
// it replays recorded chain fixtures through the reconstruction pipeline and
// prints or persists the resulting bundle dictionaries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"interlink-network/core"
	pkgconfig "interlink-network/pkg/config"
	"interlink-network/pkg/utils"
)

var version = "v0.1.0"

func main() {
	// .env is optional; flags and environment win over it.
	_ = godotenv.Load()
	cfg := loadEngineConfig()

	rootCmd := &cobra.Command{
		Use:   "interlink",
		Short: "cross-chain bundle accounting engine",
	}
	rootCmd.PersistentFlags().String("log-level", utils.EnvOrDefault("INTERLINK_LOG_LEVEL", "info"), "logrus level")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		lvl, err := logrus.ParseLevel(cmd.Flag("log-level").Value.String())
		if err != nil {
			return err
		}
		logrus.SetLevel(lvl)
		return nil
	}
	rootCmd.AddCommand(reconstructCmd(cfg))
	rootCmd.AddCommand(inspectCmd(cfg))
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEngineConfig reads the YAML config through the shared loader. A missing
// config file is not fatal for fixture tooling; built-in defaults apply.
func loadEngineConfig() *pkgconfig.Config {
	cfg, err := pkgconfig.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Debug("no engine config file loaded; using built-in defaults")
		cfg = &pkgconfig.Config{}
	}
	if cfg.Engine.MaxBinarySearchProbes <= 0 {
		cfg.Engine.MaxBinarySearchProbes = core.DefaultMaxBinarySearchProbes
	}
	return cfg
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the engine version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}
}

// initCmd writes a starter configuration file in the shape loadEngineConfig
// reads back.
func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "cmd/config/default.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			doc := map[string]any{
				"hub": map[string]any{
					"chain_id":           1,
					"deployment_block":   0,
					"avg_block_time_sec": 12,
				},
				"spokes": []map[string]any{},
				"engine": map[string]any{
					"attempt_blob_cache":       false,
					"pre_fill_min_version":     0,
					"force_refund_prefills":    false,
					"max_binary_search_probes": core.DefaultMaxBinarySearchProbes,
					"blob_dir":                 "blobs",
				},
				"logging": map[string]any{"level": "info"},
			}
			raw, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return utils.Wrap(err, "write config")
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func reconstructCmd(cfg *pkgconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "reconstruct a bundle from chain fixtures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconstruct(cmd, cfg)
		},
	}
	addFixtureFlags(cmd)
	cmd.Flags().String("ranges", "", "per-chain block ranges, e.g. 100-200,50-150 (hub first)")
	cmd.Flags().Uint32("prefill-min-version", cfg.Engine.PreFillMinVersion, "config store version enabling pre-fill refunds")
	cmd.Flags().Bool("force-prefills", cfg.Engine.ForceRefundPrefills, "arm the one-shot pre-fill override")
	cmd.Flags().String("blob-dir", cfg.Engine.BlobDir, "persistent blob cache directory (empty disables)")
	cmd.Flags().Bool("attempt-cache", cfg.Engine.AttemptBlobCache, "consult the blob cache before recomputing")
	_ = cmd.MarkFlagRequired("ranges")
	return cmd
}

func inspectCmd(cfg *pkgconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "dump hub, config store and spoke client state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, cfg)
		},
	}
	addFixtureFlags(cmd)
	return cmd
}

func addFixtureFlags(cmd *cobra.Command) {
	cmd.Flags().String("hub", "", "hub chain fixture file")
	cmd.Flags().StringSlice("spoke", nil, "spoke chain fixture files")
	_ = cmd.MarkFlagRequired("hub")
}

func parseRanges(raw string) ([]core.BlockRange, error) {
	var out []core.BlockRange
	for _, part := range strings.Split(raw, ",") {
		bounds := strings.SplitN(strings.TrimSpace(part), "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("range %q must be start-end", part)
		}
		start, err := strconv.ParseUint(bounds[0], 10, 64)
		if err != nil {
			return nil, err
		}
		end, err := strconv.ParseUint(bounds[1], 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, core.BlockRange{Start: start, End: end})
	}
	return out, nil
}

// engine bundles the clients assembled from replay fixtures.
type engine struct {
	configStore *core.ConfigStoreClient
	hub         *core.HubPoolClient
	chainList   []core.ChainID
	spokes      map[core.ChainID]*core.SpokeClient
	providers   map[core.ChainID]core.SpokeProvider
}

// assembleEngine loads the fixtures named by --hub/--spoke and updates every
// client against them.
func assembleEngine(ctx context.Context, cmd *cobra.Command, cfg *pkgconfig.Config, lg *logrus.Logger) (*engine, error) {
	hubPath, _ := cmd.Flags().GetString("hub")
	spokePaths, _ := cmd.Flags().GetStringSlice("spoke")

	hubFx, err := core.LoadReplayFixture(hubPath)
	if err != nil {
		return nil, err
	}
	hubProvider := core.NewReplayProvider(hubFx)

	avgBlockTime := time.Duration(cfg.Hub.AvgBlockTimeSec) * time.Second
	configStore := core.NewConfigStoreClient(lg, avgBlockTime)
	globals, tokens, err := readConfigEvents(ctx, hubProvider)
	if err != nil {
		return nil, err
	}
	configStore.Update(globals, tokens, hubFx.LatestBlock)

	hub := core.NewHubPoolClient(hubFx.ChainID, cfg.Hub.DeploymentBlock, hubProvider, configStore, lg)
	if err := hub.Update(ctx); err != nil {
		return nil, err
	}

	eng := &engine{
		configStore: configStore,
		hub:         hub,
		chainList:   []core.ChainID{hubFx.ChainID},
		spokes:      make(map[core.ChainID]*core.SpokeClient),
		providers:   make(map[core.ChainID]core.SpokeProvider),
	}
	for _, path := range spokePaths {
		fx, err := core.LoadReplayFixture(path)
		if err != nil {
			return nil, err
		}
		provider := core.NewReplayProvider(fx)
		spoke := core.NewSpokeClient(fx.ChainID, 0, provider, hub, configStore, lg)
		spoke.SetMaxBinarySearchProbes(cfg.Engine.MaxBinarySearchProbes)
		if err := spoke.Update(ctx); err != nil {
			return nil, err
		}
		eng.chainList = append(eng.chainList, fx.ChainID)
		eng.spokes[fx.ChainID] = spoke
		eng.providers[fx.ChainID] = provider
	}
	return eng, nil
}

func runReconstruct(cmd *cobra.Command, cfg *pkgconfig.Config) error {
	ctx := context.Background()
	lg := logrus.StandardLogger()
	zlg, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = zlg.Sync() }()

	rangesRaw, _ := cmd.Flags().GetString("ranges")
	minVersion, _ := cmd.Flags().GetUint32("prefill-min-version")
	forcePrefills, _ := cmd.Flags().GetBool("force-prefills")
	blobDir, _ := cmd.Flags().GetString("blob-dir")
	attemptCache, _ := cmd.Flags().GetBool("attempt-cache")

	ranges, err := parseRanges(rangesRaw)
	if err != nil {
		return err
	}
	eng, err := assembleEngine(ctx, cmd, cfg, lg)
	if err != nil {
		return err
	}

	var blob *core.BlobCache
	if blobDir != "" {
		store, err := core.NewFileStore(blobDir)
		if err != nil {
			return err
		}
		blob = core.NewBlobCache(store, lg)
	}

	verifier := core.NewRepaymentVerifier(eng.hub, eng.providers, zlg)
	reconstructor := core.NewReconstructor(eng.hub, verifier, eng.chainList, core.ReconstructorConfig{
		AttemptBlobCache:  blob != nil,
		PreFillMinVersion: minVersion,
	}, blob, zlg)
	if forcePrefills {
		reconstructor.ForcePrefillsOnce()
	}

	result, err := reconstructor.LoadData(ctx, ranges, eng.spokes, attemptCache)
	if err != nil {
		return err
	}
	raw, err := core.EncodeBundleBlob(result)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// spokeState is one spoke's inspect summary.
type spokeState struct {
	ChainID          core.ChainID `json:"chain_id"`
	LatestBlock      uint64       `json:"latest_block_searched"`
	CurrentTime      uint32       `json:"current_time"`
	Deposits         int          `json:"deposits"`
	Fills            int          `json:"fills"`
	SlowFillRequests int          `json:"slow_fill_requests"`
	RootBundleRelays int          `json:"root_bundle_relays"`
	RefundExecutions int          `json:"refund_executions"`
	TokensBridged    int          `json:"tokens_bridged"`
}

func runInspect(cmd *cobra.Command, cfg *pkgconfig.Config) error {
	ctx := context.Background()
	eng, err := assembleEngine(ctx, cmd, cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}

	hubBlock := eng.hub.LatestBlockSearched()
	doc := struct {
		Hub struct {
			ChainID         core.ChainID   `json:"chain_id"`
			LatestBlock     uint64         `json:"latest_block_searched"`
			CurrentTime     uint32         `json:"current_time"`
			PendingProposal bool           `json:"pending_proposal"`
			ConfigVersion   uint32         `json:"config_version"`
			DisabledChains  []core.ChainID `json:"disabled_chains"`
		} `json:"hub"`
		Spokes []spokeState `json:"spokes"`
	}{}
	doc.Hub.ChainID = eng.hub.ChainID()
	doc.Hub.LatestBlock = hubBlock
	doc.Hub.CurrentTime = eng.hub.CurrentTime()
	doc.Hub.PendingProposal = eng.hub.HasPendingProposal()
	doc.Hub.ConfigVersion = eng.configStore.VersionAtBlock(hubBlock)
	doc.Hub.DisabledChains = eng.configStore.DisabledChainsAtBlock(hubBlock)

	for _, chain := range eng.chainList {
		spoke, ok := eng.spokes[chain]
		if !ok {
			continue
		}
		state := spokeState{
			ChainID:          chain,
			LatestBlock:      spoke.LatestBlockSearched(),
			CurrentTime:      spoke.CurrentTime(),
			RootBundleRelays: len(spoke.RootBundleRelays()),
			RefundExecutions: len(spoke.RelayerRefundExecutions()),
			TokensBridged:    len(spoke.TokensBridgedEvents()),
		}
		for _, other := range eng.chainList {
			if other == chain {
				continue
			}
			state.Deposits += len(spoke.DepositsForDestination(other, spoke.LatestBlockSearched()))
			state.Fills += len(spoke.FillsForOrigin(other, spoke.LatestBlockSearched()))
			state.SlowFillRequests += len(spoke.SlowFillRequestsForOrigin(other, spoke.LatestBlockSearched()))
		}
		doc.Spokes = append(doc.Spokes, state)
	}

	out, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// readConfigEvents drains the hub fixture's config store events.
func readConfigEvents(ctx context.Context, provider *core.ReplayProvider) ([]*core.UpdatedGlobalConfig, []*core.UpdatedTokenConfig, error) {
	head, err := provider.LatestBlock(ctx)
	if err != nil {
		return nil, nil, err
	}
	rawGlobals, err := provider.ReadEvents(ctx, core.KindUpdatedGlobalConfig, 0, head)
	if err != nil {
		return nil, nil, err
	}
	rawTokens, err := provider.ReadEvents(ctx, core.KindUpdatedTokenConfig, 0, head)
	if err != nil {
		return nil, nil, err
	}
	globals := make([]*core.UpdatedGlobalConfig, 0, len(rawGlobals))
	for _, ev := range rawGlobals {
		globals = append(globals, ev.(*core.UpdatedGlobalConfig))
	}
	tokens := make([]*core.UpdatedTokenConfig, 0, len(rawTokens))
	for _, ev := range rawTokens {
		tokens = append(tokens, ev.(*core.UpdatedTokenConfig))
	}
	return globals, tokens, nil
}
