package bridge

import (
	"encoding/json"
	"fmt"
)

// ModelKind identifies which runner program serves a request.
type ModelKind string

const (
	Autoencoder ModelKind = "autoencoder"
	Cnn         ModelKind = "cnn"
)

// Kinds lists every supported model kind in a stable order.
var Kinds = []ModelKind{Autoencoder, Cnn}

func ParseModelKind(s string) (ModelKind, error) {
	switch kind := ModelKind(s); kind {
	case Autoencoder, Cnn:
		return kind, nil
	default:
		return "", fmt.Errorf("invalid model type '%s', expected 'autoencoder' or 'cnn'", s)
	}
}

type Operation string

const (
	Predict Operation = "predict"
	Train   Operation = "train"
)

const DefaultEpochs = 10

// Command is the single request written to a runner process.
type Command struct {
	Operation Operation
	Samples   [][]float64
	Labels    []int64
	Epochs    int
}

// RunnerReply is the first parseable reply read back from a runner. Exactly one
// of Result and Failure is set.
type RunnerReply struct {
	Result  json.RawMessage
	Failure *ReplyFailure
}

type ReplyFailure struct {
	Message string
}

func (r RunnerReply) Failed() bool {
	return r.Failure != nil
}
