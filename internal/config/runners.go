package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"netguard-backend/internal/bridge"

	"gopkg.in/yaml.v2"
)

// RunnerConfig is one entry of the runners file:
//
//	runners:
//	  autoencoder:
//	    path: /usr/bin/python3
//	    args: [-u, /app/models/autoencoder.py]
//	    timeout: 90s
//	    max_concurrent: 2
type RunnerConfig struct {
	Path          string            `yaml:"path"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	Dir           string            `yaml:"dir"`
	Timeout       time.Duration     `yaml:"timeout"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Warm          *int              `yaml:"warm"`
	QueueTimeout  *time.Duration    `yaml:"queue_timeout"`
	ExitGrace     time.Duration     `yaml:"exit_grace"`
	MaxReplyBytes int               `yaml:"max_reply_bytes"`
}

type runnersFile struct {
	Runners map[string]RunnerConfig `yaml:"runners"`
}

var scriptNames = map[bridge.ModelKind]string{
	bridge.Autoencoder: "autoencoder.py",
	bridge.Cnn:         "cnn_model.py",
}

// LoadRunners builds the runner descriptor of every model kind. Without a
// config file each kind runs its script from ModelScriptDir with the python
// interpreter in unbuffered mode.
func LoadRunners(defaults RunnerDefaults) (map[bridge.ModelKind]bridge.RunnerSpec, error) {
	if defaults.ConfigFile == "" {
		specs := make(map[bridge.ModelKind]bridge.RunnerSpec, len(bridge.Kinds))
		for _, kind := range bridge.Kinds {
			specs[kind] = defaults.apply(bridge.RunnerSpec{
				Path: defaults.PythonExecutable,
				Args: []string{"-u", filepath.Join(defaults.ModelScriptDir, scriptNames[kind])},
			}, nil, nil)
		}
		return specs, nil
	}

	data, err := os.ReadFile(defaults.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error reading runners config: %w", err)
	}
	return ParseRunners(data, defaults)
}

func ParseRunners(data []byte, defaults RunnerDefaults) (map[bridge.ModelKind]bridge.RunnerSpec, error) {
	var file runnersFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing runners config: %w", err)
	}

	specs := make(map[bridge.ModelKind]bridge.RunnerSpec, len(file.Runners))
	for name, rc := range file.Runners {
		kind, err := bridge.ParseModelKind(name)
		if err != nil {
			return nil, fmt.Errorf("runners config: %w", err)
		}
		if rc.Path == "" {
			return nil, fmt.Errorf("runners config: runner '%s' has no path", name)
		}

		spec := bridge.RunnerSpec{
			Path:          rc.Path,
			Args:          rc.Args,
			Env:           envList(rc.Env),
			Dir:           rc.Dir,
			Timeout:       rc.Timeout,
			MaxConcurrent: rc.MaxConcurrent,
			ExitGrace:     rc.ExitGrace,
			MaxReplyBytes: rc.MaxReplyBytes,
		}
		specs[kind] = defaults.apply(spec, rc.Warm, rc.QueueTimeout)
	}

	for _, kind := range bridge.Kinds {
		if _, ok := specs[kind]; !ok {
			return nil, fmt.Errorf("runners config: no runner for model kind '%s'", kind)
		}
	}

	return specs, nil
}

func (d RunnerDefaults) apply(spec bridge.RunnerSpec, warm *int, queueTimeout *time.Duration) bridge.RunnerSpec {
	if spec.Timeout <= 0 {
		spec.Timeout = d.Timeout
	}
	if spec.MaxConcurrent <= 0 {
		spec.MaxConcurrent = d.MaxConcurrent
	}
	if spec.ExitGrace <= 0 {
		spec.ExitGrace = d.ExitGrace
	}

	spec.Warm = d.Warm
	if warm != nil {
		spec.Warm = *warm
	}
	spec.QueueTimeout = d.QueueTimeout
	if queueTimeout != nil {
		spec.QueueTimeout = *queueTimeout
	}

	return spec.WithDefaults()
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}
