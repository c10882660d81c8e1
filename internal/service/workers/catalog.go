package workers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/botfleet/internal/model"
)

// Container defaults for the built-in worker kinds.
const (
	DefaultImage      = "node:18-alpine"
	DefaultWorkingDir = "/app"
	DefaultPrefix     = "!"
)

// DefaultCmd is the entrypoint every built-in kind runs.
var DefaultCmd = []string{"node", "bot.js"}

// KindSpec describes how containers for one worker kind are built.
type KindSpec struct {
	Image      string            `yaml:"image"`
	Cmd        []string          `yaml:"cmd"`
	WorkingDir string            `yaml:"working_dir"`
	CodeDir    string            `yaml:"code_dir"` // host directory mounted at WorkingDir; empty = no mount
	Env        map[string]string `yaml:"env"`
}

// Catalog maps each supported kind to its container recipe.
type Catalog map[model.Kind]KindSpec

// DefaultCatalog mounts <botsDir>/<kind> into image for every built-in kind.
func DefaultCatalog(image, botsDir string) Catalog {
	if image == "" {
		image = DefaultImage
	}
	root := botsDir
	if abs, err := filepath.Abs(botsDir); err == nil {
		root = abs
	}
	c := make(Catalog, len(model.Kinds))
	for _, k := range model.Kinds {
		c[k] = KindSpec{
			Image:      image,
			Cmd:        append([]string(nil), DefaultCmd...),
			WorkingDir: DefaultWorkingDir,
			CodeDir:    filepath.Join(root, string(k)),
		}
	}
	return c
}

type catalogFile struct {
	Kinds map[string]KindSpec `yaml:"kinds"`
}

// LoadCatalog reads a YAML kinds file and overlays it on base. Fields left
// empty in the file keep the base value. Only the built-in kinds are accepted.
//
//	kinds:
//	  discord:
//	    image: node:20-alpine
//	    env:
//	      NODE_ENV: production
func LoadCatalog(path string, base Catalog) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workers: read kinds file: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("workers: parse kinds file %s: %w", path, err)
	}

	out := make(Catalog, len(base))
	for k, v := range base {
		out[k] = v
	}
	for name, override := range f.Kinds {
		kind := model.Kind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("workers: kinds file %s: unknown kind %q", path, name)
		}
		spec := out[kind]
		if override.Image != "" {
			spec.Image = override.Image
		}
		if len(override.Cmd) > 0 {
			spec.Cmd = override.Cmd
		}
		if override.WorkingDir != "" {
			spec.WorkingDir = override.WorkingDir
		}
		if override.CodeDir != "" {
			spec.CodeDir = override.CodeDir
		}
		if len(override.Env) > 0 {
			spec.Env = override.Env
		}
		out[kind] = spec
	}
	return out, nil
}

// validateConfig checks the settings a kind needs before any container is created.
func validateConfig(kind model.Kind, config map[string]any) error {
	if !kind.RequiresToken() {
		return nil
	}
	tok, _ := config["token"].(string)
	if strings.TrimSpace(tok) == "" {
		return fmt.Errorf("%w: %s workers require config.token", ErrValidation, kind)
	}
	return nil
}

// containerEnv builds the process environment for a worker. Well-known keys
// map to BOT_TOKEN and BOT_PREFIX; every other config key is passed as
// BOT_CONFIG_<KEY>. Output is sorted so specs are deterministic.
func containerEnv(w model.Worker, spec KindSpec) []string {
	env := map[string]string{
		"BOT_TYPE":   string(w.Kind),
		"BOT_NAME":   w.Name,
		"BOT_PREFIX": DefaultPrefix,
	}
	if w.Port > 0 {
		env["BOT_PORT"] = strconv.Itoa(w.Port)
	}
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range w.Config {
		switch k {
		case "token":
			env["BOT_TOKEN"] = envValue(v)
		case "prefix":
			if s := envValue(v); s != "" {
				env["BOT_PREFIX"] = s
			}
		default:
			env["BOT_CONFIG_"+envKey(k)] = envValue(v)
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func envKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
