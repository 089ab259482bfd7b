// Package config turns the JSON or YAML configuration of the scheduler into
// the settings of its components.
//
// A configuration is layered: the "default" config, then a named config
// (see Configs), then an optional user file. Each layer only overrides the
// fields it sets.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/ldv-klever/klever-scheduler/balancer"
	"github.com/ldv-klever/klever-scheduler/common/httpjson"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/dispatcher"
	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/jobtracker"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

// JSONConfigs holds the configuration as written by the user.
type JSONConfigs struct {
	Balancer   BalancerJSONConfig   `json:"Balancer"`
	Dispatcher DispatcherJSONConfig `json:"Dispatcher"`
	Workers    WorkersJSONConfig    `json:"Workers"`
	JobTracker JobTrackerJSONConfig `json:"JobTracker"`
	Admin      AdminJSONConfig      `json:"Admin"`
}

func (c JSONConfigs) String() string {
	return fmt.Sprintf("\n%s\n%s\n%s\n%s\n%s", c.Balancer, c.Dispatcher, c.Workers, c.JobTracker, c.Admin)
}

// BalancerJSONConfig holds the QoS limits of a first attempt and the job's
// wall clock budget. Sizes are in bytes, durations in time.ParseDuration form.
type BalancerJSONConfig struct {
	CPUTime              string  `json:"CPUTime"`
	WallTime             string  `json:"WallTime"`
	MemorySize           int64   `json:"MemorySize"`
	DiskSize             int64   `json:"DiskSize"`
	WallTimeBudgetForJob string  `json:"WallTimeBudgetForJob"` // empty means no budget, nothing is retried
	MinIncreaseStep      float64 `json:"MinIncreaseStep"`      // default to 1.5
}

func (c BalancerJSONConfig) String() string {
	return fmt.Sprintf("BalancerJSONConfig: CPUTime: %s, WallTime: %s, MemorySize: %d, DiskSize: %d, "+
		"WallTimeBudgetForJob: %s, MinIncreaseStep: %.2f",
		c.CPUTime, c.WallTime, c.MemorySize, c.DiskSize, c.WallTimeBudgetForJob, c.MinIncreaseStep)
}

func (c BalancerJSONConfig) Create() (balancer.Config, error) {
	cfg := balancer.Config{
		QoS: domain.ResourceLimits{
			MemorySize: c.MemorySize,
			DiskSize:   c.DiskSize,
		},
		MinStepFactor: c.MinIncreaseStep,
	}
	var err error
	if cfg.QoS.CPUTime, err = parseDuration("Balancer.CPUTime", c.CPUTime); err != nil {
		return cfg, err
	}
	if cfg.QoS.WallTime, err = parseDuration("Balancer.WallTime", c.WallTime); err != nil {
		return cfg, err
	}
	if cfg.WallTimeBudget, err = parseDuration("Balancer.WallTimeBudgetForJob", c.WallTimeBudgetForJob); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type DispatcherJSONConfig struct {
	TickRate            string  `json:"TickRate"`            // default to 250ms
	PollInterval        string  `json:"PollInterval"`        // default to 5s
	SubmitRetryTimeout  string  `json:"SubmitRetryTimeout"`  // default to 1m
	TaskTimeoutOverhead string  `json:"TaskTimeoutOverhead"` // default to 5m
	MaxInFlight         int     `json:"MaxInFlight"`         // 0 means unbounded
	SubmitRatePerSec    float64 `json:"SubmitRatePerSec"`    // 0 means unlimited
	HistorySize         int     `json:"HistorySize"`
}

func (c DispatcherJSONConfig) String() string {
	return fmt.Sprintf("DispatcherJSONConfig: TickRate: %s, PollInterval: %s, SubmitRetryTimeout: %s, "+
		"TaskTimeoutOverhead: %s, MaxInFlight: %d, SubmitRatePerSec: %.2f, HistorySize: %d",
		c.TickRate, c.PollInterval, c.SubmitRetryTimeout, c.TaskTimeoutOverhead, c.MaxInFlight,
		c.SubmitRatePerSec, c.HistorySize)
}

func (c DispatcherJSONConfig) Create() (dispatcher.Config, error) {
	cfg := dispatcher.Config{
		MaxInFlight: c.MaxInFlight,
		HistorySize: c.HistorySize,
		SubmitRate:  rate.Inf,
	}
	if c.SubmitRatePerSec > 0 {
		cfg.SubmitRate = rate.Limit(c.SubmitRatePerSec)
	}
	var err error
	if cfg.TickRate, err = parseDuration("Dispatcher.TickRate", c.TickRate); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = parseDuration("Dispatcher.PollInterval", c.PollInterval); err != nil {
		return cfg, err
	}
	if cfg.SubmitRetryTimeout, err = parseDuration("Dispatcher.SubmitRetryTimeout", c.SubmitRetryTimeout); err != nil {
		return cfg, err
	}
	if cfg.TaskTimeoutOverhead, err = parseDuration("Dispatcher.TaskTimeoutOverhead", c.TaskTimeoutOverhead); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type WorkersJSONConfig struct {
	Type       string `json:"Type"` // http
	Addr       string `json:"Addr"`
	MaxRetries int    `json:"MaxRetries"`
}

func (c WorkersJSONConfig) String() string {
	return fmt.Sprintf("WorkersJSONConfig: Type: %s, Addr: %s, MaxRetries: %d", c.Type, c.Addr, c.MaxRetries)
}

func (c WorkersJSONConfig) Create(stat stats.StatsReceiver) (workerapi.Client, error) {
	switch c.Type {
	case "http":
		if c.Addr == "" {
			return nil, errors.New("Workers.Addr is required for http workers")
		}
		return workerapi.NewHTTPClient(c.Addr, httpjson.MakePesterClient(c.MaxRetries), stat.Scope("workers")), nil
	}
	return nil, fmt.Errorf("unknown Workers.Type %q, supported values are [http]", c.Type)
}

type JobTrackerJSONConfig struct {
	Type        string                   `json:"Type"` // http, log
	Addr        string                   `json:"Addr"`
	JobID       string                   `json:"JobID"`
	MaxRetries  int                      `json:"MaxRetries"`
	Verifier    workerapi.VerifierConfig `json:"Verifier"`    // used by the log tracker only
	ArchiveRoot string                   `json:"ArchiveRoot"` // used by the log tracker only
}

func (c JobTrackerJSONConfig) String() string {
	return fmt.Sprintf("JobTrackerJSONConfig: Type: %s, Addr: %s, JobID: %s, MaxRetries: %d, Verifier: %s, ArchiveRoot: %s",
		c.Type, c.Addr, c.JobID, c.MaxRetries, c.Verifier.Name, c.ArchiveRoot)
}

// Create returns the job tracker client. The log tracker serves a job
// configuration built from the local balancer settings.
func (c JobTrackerJSONConfig) Create(bc balancer.Config, stat stats.StatsReceiver) (jobtracker.Client, error) {
	switch c.Type {
	case "http":
		if c.Addr == "" || c.JobID == "" {
			return nil, errors.New("JobTracker.Addr and JobTracker.JobID are required for the http tracker")
		}
		return jobtracker.NewHTTPClient(c.Addr, c.JobID, httpjson.MakePesterClient(c.MaxRetries), stat.Scope("tracker")), nil
	case "log":
		return jobtracker.NewLogClient(jobtracker.JobConfiguration{
			JobID:           c.JobID,
			QoS:             bc.QoS,
			WallTimeBudget:  bc.WallTimeBudget,
			MinIncreaseStep: bc.MinStepFactor,
			Verifier:        c.Verifier,
			ArchiveRoot:     c.ArchiveRoot,
		}), nil
	}
	return nil, fmt.Errorf("unknown JobTracker.Type %q, supported values are [http log]", c.Type)
}

type AdminJSONConfig struct {
	Addr     string `json:"Addr"`     // empty disables the admin server
	MaxConns int    `json:"MaxConns"` // 0 means unbounded
}

func (c AdminJSONConfig) String() string {
	return fmt.Sprintf("AdminJSONConfig: Addr: %s, MaxConns: %d", c.Addr, c.MaxConns)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", field)
	}
	return d, nil
}

// MergeJobConfiguration lets the backend's job settings override the local
// balancer settings. Unset backend fields keep the local value.
func MergeJobConfiguration(bc balancer.Config, jc jobtracker.JobConfiguration) balancer.Config {
	if jc.QoS.CPUTime > 0 {
		bc.QoS.CPUTime = jc.QoS.CPUTime
	}
	if jc.QoS.WallTime > 0 {
		bc.QoS.WallTime = jc.QoS.WallTime
	}
	if jc.QoS.MemorySize > 0 {
		bc.QoS.MemorySize = jc.QoS.MemorySize
	}
	if jc.QoS.DiskSize > 0 {
		bc.QoS.DiskSize = jc.QoS.DiskSize
	}
	if jc.WallTimeBudget > 0 {
		bc.WallTimeBudget = jc.WallTimeBudget
	}
	if jc.MinIncreaseStep > 0 {
		bc.MinStepFactor = jc.MinIncreaseStep
	}
	return bc
}

// GetConfigText returns the text of a named config.
func GetConfigText(configSelector string) ([]byte, error) {
	configText, ok := Configs[configSelector]
	if !ok {
		keys := make([]string, 0, len(Configs))
		for k := range Configs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("invalid configuration %s, supported values are %v", configSelector, keys)
	}
	return []byte(configText), nil
}

// GetConfig layers the named config over the default one.
func GetConfig(configSelector string) (*JSONConfigs, error) {
	return LoadConfig(configSelector, "")
}

// LoadConfig layers the default config, the named config and the file at
// path, when given. Files ending in .yaml or .yml are read as YAML.
func LoadConfig(configSelector, path string) (*JSONConfigs, error) {
	defaultText, err := GetConfigText("default")
	if err != nil {
		return nil, err
	}
	cfg := &JSONConfigs{}
	if err := json.Unmarshal(defaultText, cfg); err != nil {
		return nil, fmt.Errorf("couldn't parse the default config: %v", err)
	}

	if configSelector != "" && configSelector != "default" {
		text, err := GetConfigText(configSelector)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(text, cfg); err != nil {
			return nil, fmt.Errorf("couldn't parse config %s: %v", configSelector, err)
		}
	}

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file")
		}
		if err := overlay(cfg, path, data); err != nil {
			return nil, err
		}
	}
	log.Infof("Using configuration: %s", cfg)
	return cfg, nil
}

// overlay decodes data on top of cfg. YAML goes through a generic map so both
// formats share the JSON field names and the same partial override rules.
func overlay(cfg *JSONConfigs, path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var generic map[string]interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return errors.Wrapf(err, "parsing YAML config %s", path)
		}
		var err error
		if data, err = json.Marshal(generic); err != nil {
			return errors.Wrapf(err, "converting YAML config %s", path)
		}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}
