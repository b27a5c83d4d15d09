// Package h3adapter is a thin, stateless wrapper around Uber's H3 grid
// system: geographic point <-> cell conversion, boundary polygons, and
// parent/children enumeration at a chosen resolution.
package h3adapter

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"
)

// Adapter wraps the H3 library with the operation set spec §4.1 names.
// It holds no state; a zero value is ready to use.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

// LatLng is a geographic point in degrees.
type LatLng struct {
	Lat float64
	Lon float64
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("h3adapter: resolution %d out of range 0..15", res)
	}
	return nil
}

func validatePoint(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("h3adapter: latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("h3adapter: longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

// ToCell converts a geographic point into the cell identifier covering it
// at the given resolution.
func (a *Adapter) ToCell(lat, lon float64, res int) (string, error) {
	if err := validatePoint(lat, lon); err != nil {
		return "", err
	}
	if err := validateRes(res); err != nil {
		return "", err
	}
	cell := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if !cell.IsValid() {
		return "", fmt.Errorf("h3adapter: computed invalid cell for (%v, %v) at res %d", lat, lon, res)
	}
	return cell.String(), nil
}

// parseCell validates and decodes a textual cell id.
func parseCell(cell string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("h3adapter: parse cell %q: %w", cell, err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("h3adapter: invalid cell %q", cell)
	}
	return c, nil
}

// Boundary returns the closed polygon of (lon, lat) vertices bounding
// cell, in degrees, with the first vertex repeated at the end.
func (a *Adapter) Boundary(cell string) ([][2]float64, error) {
	c, err := parseCell(cell)
	if err != nil {
		return nil, err
	}
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3adapter: boundary of %q: %w", cell, err)
	}
	if len(b) < 3 {
		return nil, fmt.Errorf("h3adapter: degenerate boundary for %q", cell)
	}
	out := make([][2]float64, 0, len(b)+1)
	for _, ll := range b {
		out = append(out, [2]float64{ll.Lng, ll.Lat})
	}
	out = append(out, out[0])
	return out, nil
}

// Center returns the representative (lat, lon) point of cell.
func (a *Adapter) Center(cell string) (lat, lon float64, err error) {
	c, err := parseCell(cell)
	if err != nil {
		return 0, 0, err
	}
	ll, err := c.LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("h3adapter: center of %q: %w", cell, err)
	}
	return ll.Lat, ll.Lng, nil
}

// Parent returns the ancestor of cell at parentRes (parentRes <= the
// cell's own resolution; parentRes equal to the current resolution
// returns cell unchanged).
func (a *Adapter) Parent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	c, err := parseCell(cell)
	if err != nil {
		return "", err
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("h3adapter: parent res %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3adapter: parent: %w", err)
	}
	return p.String(), nil
}

// Children returns the sorted, deduplicated descendants of cell at
// childRes (childRes >= the cell's own resolution).
func (a *Adapter) Children(cell string, childRes int) ([]string, error) {
	if err := validateRes(childRes); err != nil {
		return nil, err
	}
	c, err := parseCell(cell)
	if err != nil {
		return nil, err
	}
	curRes := c.Resolution()
	if childRes < curRes {
		return nil, fmt.Errorf("h3adapter: child res %d must be >= cell resolution %d", childRes, curRes)
	}
	if childRes == curRes {
		return []string{cell}, nil
	}
	kids, err := c.Children(childRes)
	if err != nil {
		return nil, fmt.Errorf("h3adapter: children: %w", err)
	}
	seen := make(map[string]struct{}, len(kids))
	out := make([]string, 0, len(kids))
	for _, k := range kids {
		s := k.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// Resolution returns the resolution a cell id was minted at.
func (a *Adapter) Resolution(cell string) (int, error) {
	c, err := parseCell(cell)
	if err != nil {
		return 0, err
	}
	return c.Resolution(), nil
}
