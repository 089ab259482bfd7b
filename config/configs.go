package config

// Configs holds the built-in configurations.
// !!! make sure a new config is added to this map !!!
var Configs = map[string]string{
	"default": defaultConfig,
	"local":   localConfig,
}

// defaultConfig holds the values used for everything a more specific config
// leaves out.
const defaultConfig = `{
	"Balancer": {
		"CPUTime": "15m",
		"WallTime": "",
		"MemorySize": 1073741824,
		"DiskSize": 0,
		"WallTimeBudgetForJob": "",
		"MinIncreaseStep": 1.5
	},
	"Dispatcher": {
		"TickRate": "250ms",
		"PollInterval": "5s",
		"SubmitRetryTimeout": "1m",
		"TaskTimeoutOverhead": "5m",
		"MaxInFlight": 0,
		"SubmitRatePerSec": 0,
		"HistorySize": 10000
	},
	"Workers": {
		"Type": "http",
		"MaxRetries": 7
	},
	"JobTracker": {
		"Type": "http",
		"MaxRetries": 7
	},
	"Admin": {
		"Addr": "localhost:9093",
		"MaxConns": 32
	}
}`

// localConfig runs against workers on this machine and logs reports instead
// of sending them to a backend.
const localConfig = `{
	"Balancer": {
		"CPUTime": "5m",
		"WallTimeBudgetForJob": "2h"
	},
	"Dispatcher": {
		"TickRate": "100ms",
		"PollInterval": "1s",
		"MaxInFlight": 8,
		"SubmitRatePerSec": 10
	},
	"Workers": {
		"Type": "http",
		"Addr": "http://localhost:9094",
		"MaxRetries": 3
	},
	"JobTracker": {
		"Type": "log",
		"JobID": "local",
		"Verifier": {"name": "CPAchecker"}
	}
}`
