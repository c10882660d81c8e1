package workers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/botfleet/internal/model"
)

func TestDefaultCatalogCoversAllKinds(t *testing.T) {
	c := DefaultCatalog("", "/srv/bots")
	for _, k := range model.Kinds {
		spec, ok := c[k]
		require.True(t, ok, k)
		assert.Equal(t, DefaultImage, spec.Image)
		assert.Equal(t, []string{"node", "bot.js"}, spec.Cmd)
		assert.Equal(t, filepath.Join("/srv/bots", string(k)), spec.CodeDir)
	}
}

func TestLoadCatalogOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kinds:
  discord:
    image: node:20-alpine
    env:
      NODE_ENV: production
  custom:
    cmd: ["python", "bot.py"]
`), 0o600))

	c, err := LoadCatalog(path, DefaultCatalog("", "/srv/bots"))
	require.NoError(t, err)
	assert.Equal(t, "node:20-alpine", c[model.KindDiscord].Image)
	assert.Equal(t, "production", c[model.KindDiscord].Env["NODE_ENV"])
	assert.Equal(t, DefaultWorkingDir, c[model.KindDiscord].WorkingDir)
	assert.Equal(t, []string{"python", "bot.py"}, c[model.KindCustom].Cmd)
	assert.Equal(t, DefaultImage, c[model.KindSlack].Image)
}

func TestLoadCatalogRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kinds:\n  irc:\n    image: x\n"), 0o600))
	_, err := LoadCatalog(path, DefaultCatalog("", "/srv/bots"))
	assert.Error(t, err)
}

func TestContainerEnv(t *testing.T) {
	w := model.Worker{
		Name: "a",
		Kind: model.KindSlack,
		Port: 3005,
		Config: map[string]any{
			"token":      "xoxb",
			"channel-id": "C1",
			"retries":    float64(3),
			"flags":      map[string]any{"debug": true},
		},
	}
	env := containerEnv(w, KindSpec{Env: map[string]string{"NODE_ENV": "production"}})
	assert.Equal(t, []string{
		"BOT_CONFIG_CHANNEL_ID=C1",
		"BOT_CONFIG_FLAGS={\"debug\":true}",
		"BOT_CONFIG_RETRIES=3",
		"BOT_NAME=a",
		"BOT_PORT=3005",
		"BOT_PREFIX=!",
		"BOT_TOKEN=xoxb",
		"BOT_TYPE=slack",
		"NODE_ENV=production",
	}, env)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, validateConfig(model.KindCustom, nil))
	assert.ErrorIs(t, validateConfig(model.KindTelegram, map[string]any{"token": "  "}), ErrValidation)
	assert.ErrorIs(t, validateConfig(model.KindTelegram, map[string]any{"token": 5}), ErrValidation)
	assert.NoError(t, validateConfig(model.KindTelegram, map[string]any{"token": "t"}))
}
