package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

var EtcDir = "."
var DataDir = "."

// ServiceConfig holds the gateway-wide settings shared by every
// function namespace.
type ServiceConfig struct {
	GatewayHostname string `json:"gateway_hostname"`
	NameSpace       string
	MemcacheURI     string `json:"memcache_uri"`
	JobDB           string `json:"job_db"`
	MaxConns        int    `json:"max_conns"`
	TempDir         string `json:"temp_dir"`
}

// FunctionConfig publishes one remote WPS process through the
// gateway.
type FunctionConfig struct {
	Identifier     string `json:"identifier"`
	Title          string `json:"title"`
	Abstract       string `json:"abstract"`
	ServiceURL     string `json:"service_url"`
	PollIntervalMs int    `json:"poll_interval_ms"`
	TimeoutSecs    int    `json:"timeout"`
	MaxPolls       int    `json:"max_polls"`
	ReportTemplate string `json:"report_template"`
}

// Config is the per-namespace configuration of the gateway: the
// service settings plus the list of published functions.
type Config struct {
	ServiceConfig ServiceConfig    `json:"service_config"`
	Functions     []FunctionConfig `json:"functions"`
}

const DefaultTimeoutSecs = 60
const DefaultMaxPolls = 1200

// GetFunctionIndex returns the index of the function with the given
// identifier inside Config.Functions.
func GetFunctionIndex(identifier string, config *Config) (int, error) {
	for i := range config.Functions {
		if config.Functions[i].Identifier == identifier {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s not found in config functions", identifier)
}

// LoadConfigFile unmarshals one config.json document and fills in the
// defaults.
func (config *Config) LoadConfigFile(configFile string, verbose bool) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	for i := range config.Functions {
		fn := &config.Functions[i]
		if len(fn.Identifier) == 0 {
			return fmt.Errorf("%s: function %d has no identifier", configFile, i)
		}
		if len(fn.ServiceURL) == 0 {
			return fmt.Errorf("%s: function %s has no service_url", configFile, fn.Identifier)
		}
		if fn.TimeoutSecs <= 0 {
			fn.TimeoutSecs = DefaultTimeoutSecs
		}
		if fn.MaxPolls <= 0 {
			fn.MaxPolls = DefaultMaxPolls
		}
		if verbose {
			log.Printf("config: function %s -> %s", fn.Identifier, fn.ServiceURL)
		}
	}

	return nil
}

// LoadAllConfigFiles walks rootDir picking up every config.json and
// registering it under its relative path as namespace.
func LoadAllConfigFiles(rootDir string, verbose bool) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == "config.json" {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			log.Printf("Loading config file: %s under namespace: %s\n", path, relPath)

			config := &Config{}
			e := config.LoadConfigFile(path, verbose)
			if e != nil {
				return e
			}

			ns := relPath
			if relPath == "." {
				ns = ""
			}
			config.ServiceConfig.NameSpace = ns
			configMap[relPath] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

// DumpConfig renders the loaded config map back into JSON for the
// -dump_conf flag.
func DumpConfig(configMap map[string]*Config) (string, error) {
	configJson, err := json.MarshalIndent(configMap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(configJson), nil
}

// WatchConfig reloads all config files upon SIGHUP.
func WatchConfig(infoLog, errLog *log.Logger, configMap *map[string]*Config, verbose bool) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			confMap, err := LoadAllConfigFiles(EtcDir, verbose)
			if err != nil {
				errLog.Printf("Error in loading config files: %v\n", err)
				continue
			}

			for k := range *configMap {
				delete(*configMap, k)
			}

			for k := range confMap {
				(*configMap)[k] = confMap[k]
			}
		}
	}()
}

// PollInterval converts the per-function override into a duration,
// zero meaning the client default.
func (fn *FunctionConfig) PollInterval() time.Duration {
	if fn.PollIntervalMs <= 0 {
		return 0
	}
	return time.Duration(fn.PollIntervalMs) * time.Millisecond
}
