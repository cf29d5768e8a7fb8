package shared

import "math"

// RoundMoney rounds a currency amount to two decimal places. All monetary
// arithmetic passes through this before persisting or comparing.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
