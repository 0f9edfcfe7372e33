package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [lat lng] [limit]",
	Short: "Lists stops, optionally ordered by distance from a location",
	Args:  cobra.RangeArgs(0, 3),
	RunE:  stops,
}

func stops(cmd *cobra.Command, args []string) error {
	var lat, lng float64
	var limit int
	var err error

	gotLocation := false
	if len(args) == 1 {
		return fmt.Errorf("missing lng")
	}
	if len(args) >= 2 {
		gotLocation = true
		if lat, err = strconv.ParseFloat(args[0], 64); err != nil {
			return fmt.Errorf("invalid lat: %w", err)
		}
		if lng, err = strconv.ParseFloat(args[1], 64); err != nil {
			return fmt.Errorf("invalid lng: %w", err)
		}
	}
	if len(args) == 3 {
		if limit, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
	}

	static, err := loadStatic(cmd)
	if err != nil {
		return err
	}

	stops, err := static.NearbyStops(cmd.Context(), lat, lng, limit, nil)
	if err != nil {
		return err
	}

	if !gotLocation {
		sort.Slice(stops, func(i, j int) bool { return stops[i].Name < stops[j].Name })
	}

	for _, stop := range stops {
		fmt.Printf("%s: %s\n", stop.ID, stop.Name)
	}
	return nil
}
