package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/capstream/pkg/capstream/config"
)

func TestExpander_Expand(t *testing.T) {
	vars := config.Vars(map[string]string{"session_id": "0190", "sink": "file"})

	tests := []struct {
		name    string
		missing config.MissingAction
		in      string
		want    string
		wantErr bool
	}{
		{"no placeholders", config.MissingError, "plain/path", "plain/path", false},
		{"single", config.MissingError, "events/${session_id}", "events/0190", false},
		{"several", config.MissingError, "${sink}-${session_id}-${sink}", "file-0190-file", false},
		{"bare dollar untouched", config.MissingError, "$session_id", "$session_id", false},
		{"keep missing", config.MissingKeep, "${bucket}/${sink}", "${bucket}/file", false},
		{"empty missing", config.MissingEmpty, "${bucket}/${sink}", "/file", false},
		{"error missing", config.MissingError, "${bucket}/${region}", "${bucket}/${region}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := config.NewExpander(tt.missing).Expand(tt.in, vars)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				var undef *config.UndefinedVariableError
				require.ErrorAs(t, err, &undef)
				assert.Equal(t, []string{"bucket", "region"}, undef.Names)
				assert.Equal(t, "undefined variables: bucket, region", err.Error())
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExpander_ExpandConfig(t *testing.T) {
	cfg := config.New(map[string]any{
		"stream":  "capstream.${session_id}",
		"max_len": 1000,
		"batch":   map[string]any{"linger": "${linger}"},
		"tags":    []any{"${sink}", 3},
	})
	vars := config.Vars(map[string]string{"session_id": "s1", "sink": "redis", "linger": "50ms"})

	out, err := config.NewExpander(config.MissingError).ExpandConfig(cfg, vars)
	require.NoError(t, err)
	assert.Equal(t, "capstream.s1", out.String("stream", ""))
	assert.Equal(t, 1000, out.Int("max_len", 0))
	assert.Equal(t, "50ms", out.String("batch.linger", ""))
	assert.Equal(t, []any{"redis", 3}, out.Any("tags", nil))
	assert.Equal(t, "capstream.${session_id}", cfg.String("stream", ""), "input is not modified")

	_, err = config.NewExpander(config.MissingError).ExpandConfig(
		config.New(map[string]any{"batch": map[string]any{"linger": "${nope}"}}), vars)
	assert.ErrorContains(t, err, "batch: linger: undefined variable: nope")
}
