package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigJSON = `{
  "service_config": {
    "gateway_hostname": "gateway.example.com",
    "memcache_uri": "127.0.0.1:11211",
    "max_conns": 256
  },
  "functions": [
    {
      "identifier": "geometryDrill",
      "title": "Geometry Drill",
      "service_url": "http://wps.example.com/wps",
      "poll_interval_ms": 250
    },
    {
      "identifier": "rasterDrill",
      "service_url": "http://wps.example.com/wps",
      "timeout": 120,
      "max_polls": 60
    }
  ]
}`

func writeTestConfig(t *testing.T, dir string, content string) string {
	configFile := filepath.Join(dir, "config.json")
	if err := ioutil.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configFile
}

func TestLoadConfigFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "config_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	configFile := writeTestConfig(t, dir, testConfigJSON)

	config := &Config{}
	if err := config.LoadConfigFile(configFile, false); err != nil {
		t.Errorf("failed to load config: %v", err)
		return
	}

	if config.ServiceConfig.MaxConns != 256 {
		t.Errorf("unexpected max_conns: %d", config.ServiceConfig.MaxConns)
	}
	if len(config.Functions) != 2 {
		t.Errorf("expected 2 functions, got %d", len(config.Functions))
		return
	}

	fn := &config.Functions[0]
	if fn.TimeoutSecs != DefaultTimeoutSecs {
		t.Errorf("timeout default not applied: %d", fn.TimeoutSecs)
	}
	if fn.MaxPolls != DefaultMaxPolls {
		t.Errorf("max_polls default not applied: %d", fn.MaxPolls)
	}
	if fn.PollInterval() != 250*time.Millisecond {
		t.Errorf("unexpected poll interval: %v", fn.PollInterval())
	}

	fn = &config.Functions[1]
	if fn.TimeoutSecs != 120 || fn.MaxPolls != 60 {
		t.Errorf("explicit settings overridden: timeout=%d max_polls=%d", fn.TimeoutSecs, fn.MaxPolls)
	}
	if fn.PollInterval() != 0 {
		t.Errorf("absent poll interval should map to zero, got %v", fn.PollInterval())
	}
}

func TestLoadConfigFileValidation(t *testing.T) {
	dir, err := ioutil.TempDir("", "config_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	configFile := writeTestConfig(t, dir, `{"functions": [{"identifier": "geometryDrill"}]}`)

	config := &Config{}
	if err := config.LoadConfigFile(configFile, false); err == nil {
		t.Errorf("function without service_url accepted")
	}

	configFile = writeTestConfig(t, dir, `{"functions": [{"service_url": "http://wps.example.com/wps"}]}`)
	if err := config.LoadConfigFile(configFile, false); err == nil {
		t.Errorf("function without identifier accepted")
	}
}

func TestLoadAllConfigFiles(t *testing.T) {
	dir, err := ioutil.TempDir("", "config_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	writeTestConfig(t, dir, testConfigJSON)

	nsDir := filepath.Join(dir, "landsat")
	if err := os.Mkdir(nsDir, 0755); err != nil {
		t.Fatalf("failed to create namespace dir: %v", err)
	}
	writeTestConfig(t, nsDir, testConfigJSON)

	configMap, err := LoadAllConfigFiles(dir, false)
	if err != nil {
		t.Errorf("failed to load config files: %v", err)
		return
	}

	if len(configMap) != 2 {
		t.Errorf("expected 2 namespaces, got %d", len(configMap))
		return
	}

	root, found := configMap["."]
	if !found {
		t.Errorf("root namespace missing")
		return
	}
	if root.ServiceConfig.NameSpace != "" {
		t.Errorf("root namespace should be empty, got '%s'", root.ServiceConfig.NameSpace)
	}

	landsat, found := configMap["landsat"]
	if !found {
		t.Errorf("landsat namespace missing")
		return
	}
	if landsat.ServiceConfig.NameSpace != "landsat" {
		t.Errorf("unexpected namespace: '%s'", landsat.ServiceConfig.NameSpace)
	}
}

func TestGetFunctionIndex(t *testing.T) {
	config := &Config{Functions: []FunctionConfig{
		{Identifier: "geometryDrill"},
		{Identifier: "rasterDrill"},
	}}

	idx, err := GetFunctionIndex("rasterDrill", config)
	if err != nil || idx != 1 {
		t.Errorf("unexpected index: %d, %v", idx, err)
	}

	_, err = GetFunctionIndex("no_such_function", config)
	if err == nil {
		t.Errorf("unknown function found")
	}
}
