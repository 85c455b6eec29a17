package patcher

import (
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Configuration is the patcher's on-disk configuration, loaded from a YAML
// file named after the running executable (e.g. "myserver-patcher.yml").
type Configuration struct {
	Window   WindowConfiguration   `yaml:"window"`
	Play     LaunchConfiguration   `yaml:"play"`
	Setup    LaunchConfiguration   `yaml:"setup"`
	Web      WebConfiguration      `yaml:"web"`
	Client   ClientConfiguration   `yaml:"client"`
	Patching PatchingConfiguration `yaml:"patching"`
}

// WindowConfiguration describes the patcher UI's main window.
type WindowConfiguration struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Resizable  bool `yaml:"resizable"`
}

// LaunchConfiguration describes an external executable the patcher can
// start, such as the game client ("play") or its setup tool ("setup").
type LaunchConfiguration struct {
	Path          string `yaml:"path"`
	Argument      string `yaml:"argument"`
	ExitOnSuccess bool   `yaml:"exit_on_success"`
}

// WebConfiguration holds the URLs the patcher fetches from.
type WebConfiguration struct {
	IndexURL string `yaml:"index_url"` // UI content
	PlistURL string `yaml:"plist_url"` // patch list (plist.txt)
	PatchURL string `yaml:"patch_url"` // directory containing .thor files
}

// ClientConfiguration describes the game client being patched.
type ClientConfiguration struct {
	DefaultGrfName string `yaml:"default_grf_name"`
}

// PatchingConfiguration tunes how patches are applied.
type PatchingConfiguration struct {
	InPlace        bool `yaml:"in_place"`        // in-place vs out-of-place GRF patching
	CheckIntegrity bool `yaml:"check_integrity"` // verify THOR archives' data.integrity
	CreateGrf      bool `yaml:"create_grf"`      // create target GRFs that don't exist yet
}

// LoadConfiguration reads and parses the YAML configuration file at path.
func LoadConfiguration(path string) (*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open configuration %q: %w", path, err)
	}
	defer f.Close()

	var config Configuration
	if err := yaml.NewDecoder(f).Decode(&config); err != nil {
		return nil, xerrors.Errorf("parse configuration %q: %w", path, err)
	}
	return &config, nil
}
