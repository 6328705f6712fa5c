package fallback

import (
	"errors"
	"fmt"
	"math"
)

// Vanilla physics constants for a falling player.
const (
	DefaultGravity   = 0.08
	DefaultDrag      = 0.98
	DefaultTolerance = 0.005
)

// FallModel parameterizes the free-fall check. The client starts at rest
// at the spawn point; each tick its vertical motion becomes
// (motion - Gravity) * Drag and its Y moves by that motion.
type FallModel struct {
	Gravity            float64
	Drag               float64
	Tolerance          float64
	MinAirborneSamples int
}

// CheckFall validates samples collected after the probe against the model.
// Airborne samples must descend by the predicted step; a closing on-ground
// sample must show the descent stopped no later than free fall would have
// taken it.
func CheckFall(samples []Sample, spawnY float64, m FallModel) error {
	if len(samples) == 0 {
		return errors.New("no movement samples")
	}

	prevY := spawnY
	motion := 0.0
	airborne := 0

	for i, s := range samples {
		dy := s.Y - prevY
		expected := (motion - m.Gravity) * m.Drag

		if s.OnGround {
			if i != len(samples)-1 {
				return fmt.Errorf("sample %d: ground contact before the final sample", i)
			}
			if dy > m.Tolerance {
				return fmt.Errorf("sample %d: rose %.5f while landing", i, dy)
			}
			if dy < expected-m.Tolerance {
				return fmt.Errorf("sample %d: landed with %.5f, faster than free fall %.5f", i, dy, expected)
			}
			break
		}

		if dy >= 0 {
			return fmt.Errorf("sample %d: no descent while airborne (dy=%.5f)", i, dy)
		}
		if math.Abs(dy-expected) > m.Tolerance {
			return fmt.Errorf("sample %d: dy=%.5f, expected %.5f", i, dy, expected)
		}
		motion = expected
		prevY = s.Y
		airborne++
	}

	if airborne < m.MinAirborneSamples {
		return fmt.Errorf("only %d airborne samples, need %d", airborne, m.MinAirborneSamples)
	}
	return nil
}

// FallPath returns the Y values a vanilla client reports for n ticks of free
// fall from spawnY.
func FallPath(spawnY float64, n int, m FallModel) []float64 {
	out := make([]float64, n)
	y, motion := spawnY, 0.0
	for i := 0; i < n; i++ {
		motion = (motion - m.Gravity) * m.Drag
		y += motion
		out[i] = y
	}
	return out
}
