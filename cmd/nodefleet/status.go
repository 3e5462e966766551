package main

import (
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/statestore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cluster's autoscaling state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: cfg.LogJSON})

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		store := statestore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.HistoryTable)
		defer store.Close()

		state, err := store.Get(ctx, cfg.ClusterID)
		if err != nil {
			return err
		}

		fmt.Printf("Cluster:          %s\n", state.ClusterID)
		fmt.Printf("Desired workers:  %d (min %d, max %d)\n", state.DesiredWorkerCount, cfg.MinWorkers, cfg.MaxWorkers)
		if !state.LastAction.At.IsZero() {
			fmt.Printf("Last action:      %s (%s) at %s\n",
				state.LastAction.Kind, state.LastAction.Reason, state.LastAction.At.Format(time.RFC3339))
		} else {
			fmt.Println("Last action:      none")
		}

		now := time.Now()
		fmt.Printf("Cooldown up:      %s\n", cooldownStatus(state.CooldownUpUntil, now))
		fmt.Printf("Cooldown down:    %s\n", cooldownStatus(state.CooldownDownUntil, now))

		if state.Lock != nil {
			status := "held"
			if state.Lock.Expired(now) {
				status = "expired"
			}
			fmt.Printf("Lock:             %s by %s until %s\n",
				status, state.Lock.HolderID, state.Lock.ExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Println("Lock:             free")
		}

		fmt.Printf("History samples:  %d\n", len(state.MetricHistory))
		if n := len(state.MetricHistory); n > 0 {
			last := state.MetricHistory[n-1]
			fmt.Printf("Latest sample:    cpu=%.1f%% mem=%.1f%% pending=%d at %s\n",
				last.CPUPct, last.MemPct, last.PendingPods, last.CapturedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func cooldownStatus(until, now time.Time) string {
	if until.After(now) {
		return fmt.Sprintf("active until %s", until.Format(time.RFC3339))
	}
	return "clear"
}
