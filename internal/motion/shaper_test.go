// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShape(t *testing.T) {
	tests := []struct {
		v, power, want float64
	}{
		{4, 0.5, 2},
		{-4, 0.5, -2},
		{0, 1.5, 0},
		{0.1, 1.5, 0.031622776601683794},
		{-0.1, 1.5, -0.031622776601683794},
		{-2, 1, -2},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Shape(tt.v, tt.power), 1e-12, "Shape(%v, %v)", tt.v, tt.power)
	}
}
