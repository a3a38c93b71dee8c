package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hydroplante/internal/model"
)

const minimalYAML = `
generation: v3
origin: https://plants.example
manifest:
  - path: /
    required: true
  - path: /index.html
  - path: images/normale.png
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, model.Generation("v3"), cfg.Generation)
	assert.Equal(t, DefaultAPIHost, cfg.APIHost)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultConcurrency, cfg.PopulateConcurrency)
	assert.Equal(t, Duration(DefaultCheckInterval), cfg.Connectivity.Interval)
	assert.Equal(t, Duration(DefaultCheckTimeout), cfg.Connectivity.Timeout)
	assert.Equal(t, "https://api.github.com", cfg.Connectivity.URL)
	assert.Equal(t, DefaultStateFile, cfg.Sync.StateFile)
	assert.False(t, cfg.SyncEnabled())

	assert.Equal(t, model.Manifest{
		{Path: "/", Required: true},
		{Path: "/index.html"},
		{Path: "/images/normale.png"},
	}, cfg.Manifest)
}

func TestParse_FullDocument(t *testing.T) {
	doc := `
generation: v4
origin: https://plants.example
api_host: api.example.com
database: /var/lib/hydro/cache.db
listen: 0.0.0.0:9000
skip_waiting: true
populate_concurrency: 8
manifest: []
connectivity:
  url: https://api.example.com/zen
  interval: 1m30s
  timeout: 2s
sync:
  endpoint: https://api.example.com/repos/me/plants/contents/plant_state.json
  state_file: state.json
  message: water
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.True(t, cfg.SkipWaiting)
	assert.Equal(t, 8, cfg.PopulateConcurrency)
	assert.Equal(t, "api.example.com", cfg.APIHost)
	assert.Equal(t, Duration(90*time.Second), cfg.Connectivity.Interval)
	assert.Equal(t, Duration(2*time.Second), cfg.Connectivity.Timeout)
	assert.Equal(t, "https://api.example.com/zen", cfg.Connectivity.URL)
	assert.True(t, cfg.SyncEnabled())
	assert.Equal(t, "water", cfg.Sync.Message)
	assert.Empty(t, cfg.Manifest)

	origin, err := cfg.OriginURL()
	require.NoError(t, err)
	assert.Equal(t, "plants.example", origin.Host)
}

func TestParse_NormalizesAccentedPaths(t *testing.T) {
	doc := `
generation: v1
origin: https://plants.example
manifest:
  - path: "images/fanne\u0301e.png"
  - path: "/images/fann\u00e9e.png"
    required: true
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	require.Len(t, cfg.Manifest, 1)
	assert.Equal(t, "/images/fann\u00e9e.png", cfg.Manifest[0].Path)
	assert.True(t, cfg.Manifest[0].Required)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"missing generation", "origin: https://a.example\nmanifest: []\n", "generation"},
		{"bad generation", "generation: \"-v1\"\norigin: https://a.example\nmanifest: []\n", "generation"},
		{"bad origin", "generation: v1\norigin: ftp://a.example\nmanifest: []\n", "origin"},
		{"unknown field", "generation: v1\norigin: https://a.example\nmanifest: []\ncolour: green\n", "colour"},
		{"concurrency out of range", "generation: v1\norigin: https://a.example\nmanifest: []\npopulate_concurrency: 0\n", "populate_concurrency"},
		{"plain http sync", "generation: v1\norigin: https://a.example\nmanifest: []\nsync:\n  endpoint: http://a.example/doc\n", "sync.endpoint"},
		{"bad duration", "generation: v1\norigin: https://a.example\nmanifest: []\nconnectivity:\n  interval: soon\n", "connectivity.interval"},
		{"sync host off api_host", "generation: v1\norigin: https://a.example\nmanifest: []\nsync:\n  endpoint: https://docs.example/doc\n", "sync.endpoint"},
		{"sync host off custom api_host", "generation: v1\norigin: https://a.example\napi_host: api.example.com\nmanifest: []\nsync:\n  endpoint: https://api.github.com/doc\n", "sync.endpoint"},
		{"entry without path", "generation: v1\norigin: https://a.example\nmanifest:\n  - required: true\n", "manifest.0.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want a ValidationError, got %v", err)
			assert.Equal(t, ErrCodeSchema, verr.Code)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_SyncHostMatchesAPIHost(t *testing.T) {
	doc := minimalYAML + "sync:\n  endpoint: https://API.GitHub.com/repos/me/plants/contents/plant_state.json\n"
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.True(t, cfg.SyncEnabled())

	_, err = Parse([]byte(minimalYAML + "sync:\n  endpoint: https://raw.example/plant_state.json\n"))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "sync.endpoint", verr.Field)
	assert.Contains(t, verr.Message, `"raw.example"`)
}

func TestValidate_SyntaxAndEmpty(t *testing.T) {
	errs := Validate([]byte("generation: [v1"))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeSyntax, errs[0].(*ValidationError).Code)

	errs = Validate([]byte(""))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeEmpty, errs[0].(*ValidationError).Code)
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	errs := Validate([]byte("generation: \"-x\"\norigin: nowhere\nmanifest: []\n"))
	assert.GreaterOrEqual(t, len(errs), 2)
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "[E202] origin: invalid value",
		(&ValidationError{Field: "origin", Message: "invalid value", Code: ErrCodeSchema}).Error())
	assert.Equal(t, "[E201] configuration is empty",
		(&ValidationError{Message: "configuration is empty", Code: ErrCodeEmpty}).Error())
}

func TestLoad_AppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydroplante.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	t.Setenv("HYDRO_DB", "/tmp/other.db")
	t.Setenv("HYDRO_LISTEN", ":9999")
	t.Setenv("HYDRO_SYNC_TOKEN", "secret-from-env")
	t.Setenv("HYDRO_OTEL_ENDPOINT", "http://collector:4318")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/tmp/other.db", cfg.Database)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "secret-from-env", cfg.SyncToken)
	assert.Equal(t, "http://collector:4318", cfg.OTelEndpoint)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))
	t.Setenv("HYDRO_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_TokenNeverReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydroplante.yaml")
	doc := minimalYAML + "sync_token: plaintext\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDuration_YAML(t *testing.T) {
	out, err := Duration(90 * time.Second).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
