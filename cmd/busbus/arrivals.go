package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spaceboats/busbus"
	"github.com/spaceboats/busbus/storage"
)

var arrivalsCmd = &cobra.Command{
	Use:   "arrivals <stop_id>",
	Short: "Lists upcoming arrivals at a stop",
	Args:  cobra.ExactArgs(1),
	RunE:  arrivals,
}

var (
	window    time.Duration
	limit     int
	direction int
	routeID   string
)

func init() {
	arrivalsCmd.Flags().DurationVarP(&window, "window", "W", 15*time.Minute, "Time window to search for arrivals")
	arrivalsCmd.Flags().IntVarP(&limit, "limit", "l", -1, "Limit the number of arrivals returned")
	arrivalsCmd.Flags().IntVarP(&direction, "direction", "d", -1, "Restrict to a specific direction_id")
	arrivalsCmd.Flags().StringVarP(&routeID, "route", "r", "", "Restrict to a specific route_id")
}

func arrivals(cmd *cobra.Command, args []string) error {
	stopID := args[0]

	provider, err := loadRealtime(cmd)
	if err != nil {
		return err
	}

	q := busbus.ArrivalQuery{
		StopIDs:     []string{stopID},
		Start:       time.Now(),
		Window:      window,
		Limit:       limit,
		DirectionID: storage.DirectionAny,
	}
	if direction >= 0 {
		q.DirectionID = int8(direction)
	}
	if routeID != "" {
		q.RouteIDs = []string{routeID}
	}

	results, err := provider.Arrivals(cmd.Context(), q)
	if err != nil {
		return err
	}

	for _, a := range results {
		line := fmt.Sprintf("%s %s %s", a.RouteID, time.Unix(a.Time, 0).Format(time.Kitchen), a.Headsign)
		if a.Realtime {
			line += " (realtime)"
		}
		fmt.Println(line)
	}
	return nil
}
