package parse

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Type      string `csv:"route_type"`
	URL       string `csv:"route_url"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

func legalRouteType(t model.RouteType) bool {
	if t >= 0 && t <= 7 {
		return true
	}
	return t == model.RouteTypeTrolleybus || t == model.RouteTypeMonorail
}

func validRouteColor(color string) bool {
	if len(color) != 6 {
		return false
	}
	_, err := hex.DecodeString(color)
	return err == nil
}

func ParseRoutes(writer storage.FeedWriter, data io.Reader, agency map[string]bool) (map[string]bool, error) {
	routeCsv := []*RouteCSV{}
	if err := gocsv.Unmarshal(data, &routeCsv); err != nil {
		return nil, berr.Wrap(berr.MalformedFeed, err, "unmarshaling routes.txt")
	}

	routes := map[string]bool{}

	for _, r := range routeCsv {
		if routes[r.ID] {
			return nil, berr.New(berr.MalformedFeed, "repeated route_id: "+r.ID)
		}
		routes[r.ID] = true

		if len(agency) > 1 && r.AgencyID == "" {
			return nil, berr.New(berr.MalformedFeed, "route_id "+r.ID+" has no agency_id, but feed has multiple agencies")
		}
		if r.AgencyID != "" && !agency[r.AgencyID] {
			return nil, berr.New(berr.MalformedFeed, "unknown agency_id: "+r.AgencyID)
		}
		if r.ID == "" {
			return nil, berr.New(berr.MalformedFeed, "route has no route_id")
		}
		if r.ShortName == "" && r.LongName == "" {
			return nil, berr.New(berr.MalformedFeed, "route_id "+r.ID+" has no short_name or long_name")
		}
		if r.Type == "" {
			return nil, berr.New(berr.MalformedFeed, "route_id "+r.ID+" has no route_type")
		}
		routeType, err := strconv.Atoi(r.Type)
		if err != nil {
			return nil, berr.Wrapf(berr.MalformedFeed, err, "route_id %q has invalid route_type", r.ID)
		}
		if !legalRouteType(model.RouteType(routeType)) {
			return nil, berr.New(berr.MalformedFeed, "route_id "+r.ID+" has invalid route_type")
		}

		if r.Color == "" {
			r.Color = "FFFFFF"
		} else if !validRouteColor(r.Color) {
			return nil, berr.New(berr.MalformedFeed, "route_id "+r.ID+" has invalid route_color")
		}
		if r.TextColor == "" {
			r.TextColor = "000000"
		} else if !validRouteColor(r.TextColor) {
			return nil, berr.New(berr.MalformedFeed, "route_id "+r.ID+" has invalid route_text_color")
		}

		if err := writer.WriteRoute(model.Route{
			ID:          r.ID,
			AgencyID:    r.AgencyID,
			ShortName:   r.ShortName,
			Name:        r.LongName,
			Description: r.Desc,
			Type:        model.RouteType(routeType),
			URL:         r.URL,
			Color:       r.Color,
			TextColor:   r.TextColor,
		}); err != nil {
			return nil, errors.Wrapf(err, "writing route %q", r.ID)
		}
	}

	return routes, nil
}
