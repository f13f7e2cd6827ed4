package model

import (
	"fmt"
)

// BBox is an axis-aligned [west, south, east, north] rectangle in degrees.
// It marshals to the four-element JSON array STAC expects.
//
// A box with west > 0 and east < 0 crosses the antimeridian; such boxes are
// legal and must travel through the pipeline untouched.
type BBox [4]float64

func (b BBox) West() float64  { return b[0] }
func (b BBox) South() float64 { return b[1] }
func (b BBox) East() float64  { return b[2] }
func (b BBox) North() float64 { return b[3] }

// CrossesDateline reports whether the box spans the antimeridian.
func (b BBox) CrossesDateline() bool {
	return b.West() > 0 && b.East() < 0
}

// Validate checks the coordinate ranges and ordering rules.
func (b BBox) Validate() error {
	if b.West() < -180 || b.West() > 180 || b.East() < -180 || b.East() > 180 {
		return fmt.Errorf("bbox longitude out of range: west=%g east=%g", b.West(), b.East())
	}
	if b.South() < -90 || b.South() > 90 || b.North() < -90 || b.North() > 90 {
		return fmt.Errorf("bbox latitude out of range: south=%g north=%g", b.South(), b.North())
	}
	if b.South() >= b.North() {
		return fmt.Errorf("bbox south (%g) must be below north (%g)", b.South(), b.North())
	}
	if b.West() >= b.East() && !b.CrossesDateline() {
		return fmt.Errorf("bbox west (%g) must be left of east (%g)", b.West(), b.East())
	}
	return nil
}

// Center returns the [lon, lat] midpoint. For dateline-crossing boxes the
// longitude is computed across the antimeridian and renormalized.
func (b BBox) Center() [2]float64 {
	lat := (b.South() + b.North()) / 2
	if !b.CrossesDateline() {
		return [2]float64{(b.West() + b.East()) / 2, lat}
	}
	lon := (b.West() + b.East() + 360) / 2
	if lon > 180 {
		lon -= 360
	}
	return [2]float64{lon, lat}
}

// WidthDegrees returns the longitudinal extent, accounting for dateline crossing.
func (b BBox) WidthDegrees() float64 {
	if b.CrossesDateline() {
		return (180 - b.West()) + (b.East() + 180)
	}
	return b.East() - b.West()
}
