package config

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	c := NewConfig()
	c.Label = 7
	return c
}

func TestDefaultsFailValidationWithoutLabelOrMasters(t *testing.T) {
	c := NewConfig()
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error when neither master_nodes nor label is set")
	}
}

func TestValidConfigPasses(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestExpireMustBeAtLeastTwiceInterval(t *testing.T) {
	c := validConfig()
	c.IntervalSeconds = 600
	c.ExpireSeconds = 1000 // < 2*600
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for expire < 2*interval")
	}
}

func TestExpireMustExceedIntervalPlusTen(t *testing.T) {
	c := validConfig()
	c.IntervalSeconds = 1
	c.ExpireSeconds = 2 // satisfies 2*interval but not interval+10
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for expire < interval+10")
	}
}

func TestPortRangeEnforced(t *testing.T) {
	c := validConfig()
	c.Port = 80
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for out-of-range port")
	}
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	body := "label: 9\nport: 7000\nmaster_nodes:\n  - \"master-a:7100\"\n  - \"master-b:7100\"\n"
	if err := ioutil.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c := NewConfig()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Label != 9 || c.Port != 7000 || len(c.MasterNodes) != 2 {
		t.Fatalf("LoadFile did not overlay expected fields: %+v", c)
	}
}

func TestLoadFileTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.toml")
	body := "label = 9\nport = 7000\nmaster_nodes = [\"master-a:7100\"]\n"
	if err := ioutil.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c := NewConfig()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Label != 9 || c.Port != 7000 || len(c.MasterNodes) != 1 {
		t.Fatalf("LoadFile did not overlay expected fields: %+v", c)
	}
}

type fakeProvider struct {
	name       string
	configured map[string]interface{}
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Configure(_ context.Context, cfg map[string]interface{}) error {
	f.configured = cfg
	return nil
}

func TestLoadProviderFindsByName(t *testing.T) {
	file := &fakeProvider{name: "file"}
	redis := &fakeProvider{name: "redis"}

	info := &ProviderInfo{Provider: "redis", Config: map[string]interface{}{"addr": "localhost:6379"}}
	got, err := LoadProvider(context.Background(), info, file, redis)
	if err != nil {
		t.Fatalf("LoadProvider: %v", err)
	}
	if got != Provider(redis) {
		t.Fatalf("LoadProvider picked the wrong provider")
	}
	if redis.configured["addr"] != "localhost:6379" {
		t.Fatalf("LoadProvider did not configure the matched provider")
	}
}

func TestLoadProviderUnknownName(t *testing.T) {
	file := &fakeProvider{name: "file"}
	info := &ProviderInfo{Provider: "nonexistent"}
	if _, err := LoadProvider(context.Background(), info, file); err == nil {
		t.Fatalf("expected error for unknown provider name")
	}
}
