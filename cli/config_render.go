package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/models"
	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/etc/bloog/config.yaml"

// defaultConfigYAML is a config.yaml holding every default setting under
// the `bloog` key, with freshly generated admin and token keys.
func defaultConfigYAML() ([]byte, error) {
	var cfg models.BloogConfig
	cfg.Defaults()
	var err error
	if cfg.AdminKey, err = gateway.GenerateAPIKey(); err != nil {
		return nil, err
	}
	if cfg.JWTKey, err = gateway.GenerateAPIKey(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	section := map[string]interface{}{}
	if err := json.Unmarshal(payload, &section); err != nil {
		return nil, err
	}
	return yaml.Marshal(map[string]interface{}{"bloog": section})
}

// renderConfigFile writes the default config to path in one atomic step.
// An existing file is kept unless force is set.
func renderConfigFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists, pass --force to overwrite it", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	data, err := defaultConfigYAML()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit config: %w", err)
	}
	return nil
}

func firstExistingPath(paths ...string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func decryptSopsFile(path string) ([]byte, error) {
	cmd := exec.Command("sops", "-d", path)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("sops -d %s: %w", path, err)
	}
	return output, nil
}

// mergeConfig lays override over base. Maps merge key by key; empty
// strings and lists in override keep the base value.
func mergeConfig(base, override interface{}) interface{} {
	if override == nil {
		return base
	}

	switch overrideTyped := override.(type) {
	case map[string]interface{}:
		baseMap, ok := base.(map[string]interface{})
		if !ok {
			baseMap = map[string]interface{}{}
		}
		result := make(map[string]interface{}, len(baseMap))
		for key, value := range baseMap {
			result[key] = value
		}
		for key, value := range overrideTyped {
			result[key] = mergeConfig(result[key], value)
		}
		return result
	case []interface{}:
		if len(overrideTyped) == 0 {
			return base
		}
		return overrideTyped
	case string:
		if overrideTyped == "" {
			return base
		}
		return overrideTyped
	default:
		return override
	}
}

func getMap(source map[string]interface{}, key string) map[string]interface{} {
	if source == nil {
		return nil
	}
	if typed, ok := source[key].(map[string]interface{}); ok {
		return typed
	}
	return nil
}
