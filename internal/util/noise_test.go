package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoise2D_RangeAndDeterminism(t *testing.T) {
	a := NewNoise(12345)
	b := NewNoise(12345)

	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			fx, fy := float64(x)*0.13, float64(y)*0.07
			v := a.Noise2D(fx, fy)
			assert.GreaterOrEqual(t, v, 0.0, "Шум должен быть не меньше 0")
			assert.LessOrEqual(t, v, 1.0, "Шум должен быть не больше 1")
			assert.Equal(t, v, b.Noise2D(fx, fy), "Одинаковый сид должен давать одинаковый шум")
		}
	}

	assert.Equal(t, int64(12345), a.Seed())
}
