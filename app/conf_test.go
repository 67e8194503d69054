package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ganeshkbhat/lifeline/app"
)

type conf struct {
	Name string `yaml:"name" json:"name" toml:"name"`
	Addr string `yaml:"addr" json:"addr" toml:"addr"`
	Port int    `yaml:"port" json:"port" toml:"port"`
}

func writeConf(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(dir, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return dir
}

func TestLoadConf(t *testing.T) {
	files := map[string]string{
		"server.yaml": "name: dgram_server\naddr: 127.0.0.1\nport: 41234\n",
		"server.json": `{"name":"dgram_server","addr":"127.0.0.1","port":41234}`,
		"server.toml": "name = \"dgram_server\"\naddr = \"127.0.0.1\"\nport = 41234\n",
	}
	for name, content := range files {
		var c conf
		if err := app.LoadConf(writeConf(t, name, content), &c); err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if c.Name != "dgram_server" || c.Addr != "127.0.0.1" || c.Port != 41234 {
			t.Fatalf("load %s got %+v", name, c)
		}
	}
}

func TestLoadConfUnknownSuffix(t *testing.T) {
	var c conf
	if err := app.LoadConf(writeConf(t, "server.ini", "name=x"), &c); err == nil {
		t.Fatal("load of unknown suffix succeeded")
	}
}

func TestLoadConfMissingFile(t *testing.T) {
	var c conf
	if err := app.LoadConf(filepath.Join(t.TempDir(), "absent.yaml"), &c); err == nil {
		t.Fatal("load of missing file succeeded")
	}
}
