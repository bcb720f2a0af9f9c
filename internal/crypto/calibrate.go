package crypto

import (
	"time"
)

// DefaultCalibrationTarget is the wall-clock budget for one key wrap.
const DefaultCalibrationTarget = 100 * time.Millisecond

const calibrationSample = 5000

// CalibrateIterations measures this host and returns the iteration count
// that makes one 128-bit wrap take roughly target, floored at MinCalibratedIterations.
func CalibrateIterations(target time.Duration) int64 {
	key := AesKey{b: make([]byte, KeySize128)}
	kw, err := NewKeyWrap(key, KeyWrapSalt{}, calibrationSample, KeyWrapAxCrypt)
	if err != nil {
		return MinCalibratedIterations
	}

	start := time.Now()
	if _, err := kw.Wrap(key.b); err != nil {
		return MinCalibratedIterations
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		return MinCalibratedIterations
	}

	iterations := int64(float64(calibrationSample) * float64(target) / float64(elapsed))
	if iterations < MinCalibratedIterations {
		return MinCalibratedIterations
	}
	return iterations
}
