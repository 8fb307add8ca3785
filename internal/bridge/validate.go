package bridge

import "math"

// ValidateSamples checks that samples is a non-empty list of non-empty, finite
// feature vectors of one width.
func ValidateSamples(samples [][]float64) error {
	if len(samples) == 0 {
		return invalidInputf("data must be a non-empty array of feature vectors")
	}

	width := len(samples[0])
	for i, vec := range samples {
		if len(vec) == 0 {
			return invalidInputf("data[%d] is an empty feature vector", i)
		}
		if len(vec) != width {
			return invalidInputf("data[%d] has %d features, expected %d", i, len(vec), width)
		}
		for j, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalidInputf("data[%d][%d] is not a finite number", i, j)
			}
		}
	}
	return nil
}

// ValidateTrain checks a training request and returns the epoch count to send.
func ValidateTrain(kind ModelKind, samples [][]float64, labels []int64, epochs *int) (int, error) {
	if err := ValidateSamples(samples); err != nil {
		return 0, err
	}

	if kind == Cnn {
		if labels == nil {
			return 0, invalidInputf("labels are required for cnn training")
		}
		if len(labels) != len(samples) {
			return 0, invalidInputf("got %d labels for %d samples", len(labels), len(samples))
		}
	}

	if epochs == nil {
		return DefaultEpochs, nil
	}
	if *epochs <= 0 {
		return 0, invalidInputf("epochs must be a positive integer, got %d", *epochs)
	}
	return *epochs, nil
}
