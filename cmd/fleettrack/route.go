package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
)

var routeID string

var routeCmd = &cobra.Command{
	Use:   "route <origin_lat> <origin_lon> <dest_lat> <dest_lon>",
	Short: "Compute one route and print it as JSON",
	Long:  "Compute one route and print it as JSON. Put -- before negative coordinates.",
	Args:  cobra.ExactArgs(4),
	RunE:  printRoute,
}

func init() {
	routeCmd.Flags().StringVar(&routeID, "id", "", "route id (generated when empty)")
	rootCmd.AddCommand(routeCmd)
}

func printRoute(cmd *cobra.Command, args []string) error {
	var v [4]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", a, err)
		}
		v[i] = f
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	router, err := newRouter(cfg, logger.NewLevel("routing", cfg.LogLevel))
	if err != nil {
		return err
	}
	r, err := router.ComputeRoute(cmd.Context(),
		fleet.Coordinate{Lat: v[0], Lon: v[1]},
		fleet.Coordinate{Lat: v[2], Lon: v[3]},
		routeID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
