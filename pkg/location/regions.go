package location

import (
	"strings"

	"geoquery/pkg/model"
)

// regions maps well-known place names to bounding boxes [west, south, east,
// north]. Looked up before any geocoder call; geocoders handle everything
// else.
var regions = map[string]model.BBox{
	"europe":        {-10.5, 35.0, 40.0, 71.0},
	"africa":        {-18.0, -35.0, 52.0, 37.5},
	"asia":          {26.0, -11.0, 180.0, 77.0},
	"north america": {-168.0, 7.0, -52.0, 83.0},
	"south america": {-82.0, -56.0, -34.0, 13.0},
	"australia":     {112.0, -44.0, 154.0, -10.0},
	"antarctica":    {-180.0, -90.0, 180.0, -60.0},
	"oceania":       {110.0, -50.0, 180.0, 0.0},

	"united states": {-125.0, 24.5, -66.9, 49.4},
	"usa":           {-125.0, 24.5, -66.9, 49.4},
	"canada":        {-141.0, 41.7, -52.6, 83.1},
	"brazil":        {-73.9, -33.8, -34.8, 5.3},
	"india":         {68.1, 6.5, 97.4, 35.5},
	"china":         {73.5, 18.2, 134.8, 53.6},
	"russia":        {19.6, 41.2, 180.0, 81.9},
	"greenland":     {-73.0, 59.8, -12.0, 83.6},

	"sahara":        {-17.0, 15.0, 38.0, 30.0},
	"amazon":        {-79.0, -15.0, -45.0, 5.0},
	"alps":          {5.0, 44.0, 17.0, 48.0},
	"himalayas":     {72.0, 26.0, 95.0, 36.0},
	"mediterranean": {-6.0, 30.0, 36.5, 46.0},
	"caribbean":     {-85.0, 9.0, -59.0, 27.0},
	"scandinavia":   {4.0, 54.5, 31.5, 71.5},
	"sahel":         {-17.0, 10.0, 40.0, 20.0},
	"great barrier reef": {142.5, -24.5, 153.5, -10.0},
	"fiji":               {176.0, -19.5, -178.0, -15.5}, // Crosses the antimeridian
}

// lookupRegion checks the static region table.
func lookupRegion(name string) (model.BBox, bool) {
	bbox, ok := regions[strings.ToLower(strings.TrimSpace(name))]
	return bbox, ok
}
