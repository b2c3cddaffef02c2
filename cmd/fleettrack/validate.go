package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate [network-id...]",
	Short: "Validate networks from the configured topology source",
	Long:  "Validate the given networks, or every network the topology source lists when none is given.",
	RunE:  validateNetworks,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

type validationReport struct {
	NetworkID string `json:"rede_id"`
	fleet.Validation
	Error string `json:"error,omitempty"`
}

func validateNetworks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewLevel("validate", cfg.LogLevel)
	provider, closeProvider, err := openProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeProvider()

	ids := args
	if len(ids) == 0 {
		if ids, err = provider.List(ctx); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	invalid := 0
	for _, id := range ids {
		rep := validationReport{NetworkID: id}
		n, err := provider.Load(ctx, id)
		if err != nil {
			rep.Error = err.Error()
		} else {
			rep.Validation = n.Validate()
		}
		if rep.Error != "" || !rep.Valid {
			invalid++
		}
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d networks invalid", invalid, len(ids))
	}
	return nil
}
