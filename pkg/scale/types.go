package scale

import (
	"fmt"
	"time"
)

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown = "--"

	// UnitGrams denotes metric units
	UnitGrams = "g"
)

// DataPoint denotes an averaged weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Unit      Unit
	Weight    float64

	// Samples is the number of raw samples averaged into Weight
	Samples int
}

// Value provides a method to retrieve the current value (for interface use)
func (d DataPoint) Value() float64 {
	return d.Weight
}

// Kilograms returns the weight converted to kilograms
func (d DataPoint) Kilograms() float64 {
	return d.Weight / 1000.
}

// String returns a human-readable representation of the data point
func (d DataPoint) String() string {
	return fmt.Sprintf("%.1f%s (n=%d)", d.Weight, d.Unit, d.Samples)
}
