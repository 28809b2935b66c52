package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/capstream/pkg/capstream/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		key  string
		want string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default"},
		{"empty string", map[string]any{"name": ""}, "name", ""},
		{"wrong type", map[string]any{"name": 123}, "name", "default"},
		{"nil map", nil, "name", "default"},
		{"dotted path", map[string]any{"a": map[string]any{"b": "deep"}}, "a.b", "deep"},
		{"dotted through scalar", map[string]any{"a": "flat"}, "a.b", "default"},
		{"literal dotted key wins", map[string]any{"a.b": "literal", "a": map[string]any{"b": "deep"}}, "a.b", "literal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, "default"))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"string", "250ms", 250 * time.Millisecond},
		{"complex string", "1h30m", 90 * time.Minute},
		{"int seconds", 3, 3 * time.Second},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 7 * time.Second, 7 * time.Second},
		{"invalid string", "soon", 10 * time.Second},
		{"wrong type", true, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"timeout": tt.val})
			assert.Equal(t, tt.want, cfg.Duration("timeout", 10*time.Second))
		})
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"int", 42, 42},
		{"int64", int64(7), 7},
		{"whole float", 8.0, 8},
		{"fractional float", 8.5, -1},
		{"numeric string", "8", 8},
		{"string", "eight", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"n": tt.val})
			assert.Equal(t, tt.want, cfg.Int("n", -1))
		})
	}
}

func TestBytes(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int64
	}{
		{"int", 1024, 1024},
		{"mebibytes", "64MiB", 64 << 20},
		{"megabytes", "4 MB", 4_000_000},
		{"kibibytes", "512KiB", 512 << 10},
		{"garbage", "lots", -1},
		{"bool", true, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"size": tt.val})
			assert.Equal(t, tt.want, cfg.Bytes("size", -1))
		})
	}
}

func TestBoolFloat(t *testing.T) {
	cfg := config.New(map[string]any{"on": true, "ratio": 0.25, "count": 3, "name": "x", "flag": "true", "pct": "0.5"})

	assert.True(t, cfg.Bool("on", false))
	assert.True(t, cfg.Bool("missing", true))
	assert.False(t, cfg.Bool("name", false))
	assert.Equal(t, 0.25, cfg.Float("ratio", 1))
	assert.Equal(t, 3.0, cfg.Float("count", 1))
	assert.Equal(t, 1.0, cfg.Float("name", 1))
	assert.True(t, cfg.Bool("flag", false))
	assert.Equal(t, 0.5, cfg.Float("pct", 1))
}

func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"typed": []string{"a", "b"},
		"any":   []any{"c", "d"},
		"mixed": []any{"e", 1},
	})

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("typed", nil))
	assert.Equal(t, []string{"c", "d"}, cfg.StringSlice("any", nil))
	assert.Equal(t, []string{"z"}, cfg.StringSlice("mixed", []string{"z"}))
	assert.Nil(t, cfg.StringSlice("missing", nil))
}

func TestSubAndList(t *testing.T) {
	cfg := config.New(map[string]any{
		"redis": map[string]any{"addr": "localhost:6379", "db": 2},
		"sinks": []any{
			map[string]any{"kind": "file"},
			"not a map",
			map[string]any{"kind": "redis"},
		},
	})

	sub := cfg.Sub("redis")
	assert.Equal(t, "localhost:6379", sub.String("addr", ""))
	assert.Equal(t, 2, sub.Int("db", 0))
	assert.Empty(t, cfg.Sub("missing").Raw())

	list := cfg.List("sinks")
	require.Len(t, list, 2)
	assert.Equal(t, "file", list[0].String("kind", ""))
	assert.Equal(t, "redis", list[1].String("kind", ""))
	assert.Nil(t, cfg.List("redis"))
}

func TestHasAny(t *testing.T) {
	cfg := config.New(map[string]any{"a": map[string]any{"b": nil}})

	assert.True(t, cfg.Has("a"))
	assert.True(t, cfg.Has("a.b"))
	assert.False(t, cfg.Has("a.c"))
	assert.Nil(t, cfg.Any("a.b", "default"))
	assert.Equal(t, "default", cfg.Any("a.c", "default"))
}

func TestFromYAML(t *testing.T) {
	t.Setenv("CAPSTREAM_TEST_BUCKET", "recordings")

	cfg, err := config.FromYAML([]byte(`
bus:
  max_envelopes: 16
bucket: ${CAPSTREAM_TEST_BUCKET}
prefix: recordings/${session_id}
password: pa$word
`))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Int("bus.max_envelopes", 0))
	assert.Equal(t, "recordings", cfg.String("bucket", ""))
	assert.Equal(t, "recordings/${session_id}", cfg.String("prefix", ""), "unknown names are kept")
	assert.Equal(t, "pa$word", cfg.String("password", ""))

	_, err = config.FromYAML([]byte("bus: [unterminated"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"bus": {"max_envelopes": 16}}`))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Int("bus.max_envelopes", 0))

	_, err = config.FromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "c.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("name: yaml\n"), 0o600))
	jsonPath := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name": "json"}`), 0o600))
	tomlPath := filepath.Join(dir, "c.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`name = "toml"`), 0o600))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "yaml", cfg.String("name", ""))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.String("name", ""))

	_, err = config.FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported")

	_, err = config.FromFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}
