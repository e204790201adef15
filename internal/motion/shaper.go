// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "math"

// Shape applies the sign-preserving response curve sign(v) * |v|^power.
// A power above 1 suppresses small jitter and accelerates large motions.
func Shape(v, power float64) float64 {
	return sign(v) * math.Pow(math.Abs(v), power)
}

// sign returns -1, 0 or 1. Zero (of either sign) maps to 0.
func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
