package patcher

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
window:
  width: 600
  height: 400
  resizable: false
play:
  path: client.exe
  argument: ""
  exit_on_success: true
setup:
  path: setup.exe
  argument: ""
web:
  index_url: https://example.com/index.html
  plist_url: https://example.com/plist.txt
  patch_url: https://example.com/patches/
client:
  default_grf_name: data.grf
patching:
  in_place: false
  check_integrity: true
  create_grf: true
`

func TestLoadConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patcher.yml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfiguration(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Window.Width != 600 || config.Window.Height != 400 {
		t.Fatalf("window = %+v", config.Window)
	}
	if config.Web.PlistURL != "https://example.com/plist.txt" {
		t.Fatalf("web.plist_url = %q", config.Web.PlistURL)
	}
	if !config.Patching.CheckIntegrity || !config.Patching.CreateGrf {
		t.Fatalf("patching = %+v", config.Patching)
	}
	if config.Patching.InPlace {
		t.Fatal("patching.in_place should be false")
	}
}
