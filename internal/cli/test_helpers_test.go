package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/testutil"
)

const (
	testOrigin   = "https://app.test"
	testEndpoint = "https://api.github.com/repos/hydroplante/garden/contents/plant_state.json"
)

// testEnv is a config file, a cache database and a network double in a
// temporary directory.
type testEnv struct {
	dir        string
	configPath string
	dbPath     string
	statePath  string
	net        *testutil.Network
	doc        *testutil.ContentsDocument
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	e := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "hydroplante.yaml"),
		dbPath:     filepath.Join(dir, "cache.db"),
		statePath:  filepath.Join(dir, "plant_state.json"),
		net:        testutil.NewNetwork(),
		doc:        testutil.NewContentsDocument(),
	}

	t.Setenv("HYDRO_CONFIG", e.configPath)
	t.Setenv("HYDRO_DB", "")
	t.Setenv("HYDRO_LISTEN", "")
	t.Setenv("HYDRO_SYNC_TOKEN", "test-token")
	t.Setenv("HYDRO_OTEL_ENDPOINT", "")

	e.net.Set(testOrigin+"/", http.StatusOK, "<html>plante</html>")
	e.net.Set(testOrigin+"/index.html", http.StatusOK, "<html>plante</html>")
	e.net.Set(testOrigin+"/script.js", http.StatusOK, "console.log('plante')")
	e.net.Set(e.assetURL("/images/fannée.png"), http.StatusOK, "PNG-fanee")
	e.net.Handle(testEndpoint, e.doc.Handler)

	e.writeConfig(t, "v1", true)
	return e
}

func (e *testEnv) assetURL(p string) string {
	origin, _ := model.ParseOrigin(testOrigin)
	return model.ResolveURL(origin, p).String()
}

// writeConfig writes a configuration for gen; withSync adds the remote
// document.
func (e *testEnv) writeConfig(t *testing.T, gen string, withSync bool) {
	t.Helper()

	doc := fmt.Sprintf(`generation: %s
origin: %s
database: %q
manifest:
  - path: /
    required: true
  - path: /index.html
    required: true
  - path: /script.js
  - path: /style.css
  - path: "/images/fannée.png"
`, gen, testOrigin, e.dbPath)
	if withSync {
		doc += fmt.Sprintf(`sync:
  endpoint: %s
  state_file: %q
`, testEndpoint, e.statePath)
	}
	require.NoError(t, os.WriteFile(e.configPath, []byte(doc), 0o644))
}

// run executes the CLI with args and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand(&RootOptions{Transport: e.net})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", e.configPath))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// jsonResponse mirrors CLIResponse with the payload left undecoded.
type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string, data any) jsonResponse {
	t.Helper()

	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}
