package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := FromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":8080" || c.Store != StoreFile || c.TickEvery != 10*time.Second || c.DataDir != "data" {
		t.Errorf("defaults = %+v", c)
	}
	if c.NeedsAWS() {
		t.Error("defaults need AWS")
	}
}

func TestOverrides(t *testing.T) {
	c, err := FromLookup(lookupFrom(map[string]string{
		"GEOQUEST_ADDR":         "127.0.0.1:9000",
		"GEOQUEST_STORE":        "S3",
		"GEOQUEST_S3_BUCKET":    "quest-bucket",
		"GEOQUEST_TICK_SECONDS": "3",
		"GEOQUEST_SQS_QUEUE":    "https://sqs.example/q",
		"LOG_FORMAT":            " console ",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Addr != "127.0.0.1:9000" || c.Store != StoreS3 || c.S3Bucket != "quest-bucket" ||
		c.TickEvery != 3*time.Second || c.LogFormat != "console" {
		t.Errorf("config = %+v", c)
	}
	if !c.NeedsAWS() {
		t.Error("s3 store should need AWS")
	}
}

func TestRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store": {"GEOQUEST_STORE": "redis"},
		"s3 w/o bucket": {"GEOQUEST_STORE": "s3"},
		"bad tick":      {"GEOQUEST_TICK_SECONDS": "soon"},
		"zero tick":     {"GEOQUEST_TICK_SECONDS": "0"},
		"negative tick": {"GEOQUEST_TICK_SECONDS": "-4"},
	}
	for name, env := range cases {
		if _, err := FromLookup(lookupFrom(env)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("GEOQUEST_DATA_DIR=/tmp/quest-data\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEOQUEST_DATA_DIR", "")
	os.Unsetenv("GEOQUEST_DATA_DIR")

	c, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if c.DataDir != "/tmp/quest-data" {
		t.Errorf("DataDir = %q", c.DataDir)
	}
}
