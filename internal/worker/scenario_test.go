package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/testutil"
)

func TestScenario_FreshInstallThenLazyAsset(t *testing.T) {
	env := newTestEnv(t)
	env.network.Set(testOrigin+"/", 200, "<html>plant</html>")
	env.network.Set(testOrigin+"/app.js", 200, "tick()")
	env.network.Set(testOrigin+"/extra.png", 200, "extra")

	out := env.install(t, "v1", "/", "/app.js")
	require.Equal(t, model.Generation("v1"), env.worker.Active())
	assert.Equal(t, []string{"/", "/app.js"}, out.Install.Cached)
	env.network.ResetCalls()

	for _, u := range []string{testOrigin + "/", testOrigin + "/app.js"} {
		assert.Equal(t, model.SourceCache, env.get(t, u).Source, u)
	}
	assert.Empty(t, env.network.Calls())

	assert.Equal(t, model.SourceNetwork, env.get(t, testOrigin+"/extra.png").Source)
	env.worker.Wait()
	assert.Equal(t, model.SourceCache, env.get(t, testOrigin+"/extra.png").Source)
	assert.Equal(t, 1, env.network.CallCount(testOrigin+"/extra.png"))
}

func TestScenario_UnshippedAssetReturns404AsIs(t *testing.T) {
	env := newTestEnv(t)
	env.network.Set(testOrigin+"/", 200, "home")

	out := env.install(t, "v1", "/", "/images/not_yet_shipped.png")
	assert.Equal(t, []string{"/images/not_yet_shipped.png"}, out.Install.Missing)
	assert.Equal(t, model.Generation("v1"), env.worker.Active())

	fetch := env.get(t, testOrigin+"/images/not_yet_shipped.png")
	env.worker.Wait()

	assert.Equal(t, model.SourceNetwork, fetch.Source)
	assert.Equal(t, http.StatusNotFound, fetch.Response.StatusCode)
	_, ok := env.cached(t, "v1", testOrigin+"/images/not_yet_shipped.png")
	assert.False(t, ok)
}

func TestScenario_GenerationBumpReplacesChangedAsset(t *testing.T) {
	env := newTestEnv(t)
	env.network.Set(testOrigin+"/style.css", 200, "v2 css")
	env.install(t, "v2", "/style.css")

	env.network.Set(testOrigin+"/style.css", 200, "v3 css")
	env.install(t, "v3", "/style.css")
	// Until activation the old generation keeps serving.
	assert.Equal(t, "v2 css", testutil.ReadBody(env.get(t, testOrigin+"/style.css").Response))

	act := env.worker.Dispatch(context.Background(), MessageEvent{Message: Message{Type: MessageSkipWaiting}})
	assert.Equal(t, []model.Generation{"v2"}, act.Pruned)

	env.network.SetOffline(true)
	out := env.get(t, testOrigin+"/style.css")
	assert.Equal(t, model.SourceCache, out.Source)
	assert.Equal(t, "v3 css", testutil.ReadBody(out.Response))

	gens, err := env.store.Generations(context.Background())
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, model.Generation("v3"), gens[0].Name)
}

func TestProperty_CachedCopyIsByteIdentical(t *testing.T) {
	env := newTestEnv(t)
	assets := map[string]string{
		"/":                       "<!doctype html>",
		"/index.html":             "<!doctype html>",
		"/script.js":              "let water = 0;",
		"/manifest.json":          `{"name":"Hydro Plante"}`,
		"/images/normale.png":     "\x89PNG\r\n\x1a\n\x00\x01",
		"/images/fantastique.png": "\x89PNG\r\n\x1a\n\xff\xfe",
	}
	paths := make([]string, 0, len(assets))
	for p, body := range assets {
		env.network.Set(testOrigin+p, 200, body)
		paths = append(paths, p)
	}
	env.install(t, "v1", paths...)
	env.network.ResetCalls()

	for p, body := range assets {
		out := env.get(t, testOrigin+p)
		assert.Equal(t, model.SourceCache, out.Source, p)
		assert.Equal(t, body, testutil.ReadBody(out.Response), p)
	}
	assert.Empty(t, env.network.Calls())
}

func TestProperty_NoOldGenerationRetrievableAfterActivation(t *testing.T) {
	env := newTestEnv(t)
	env.network.Set(testOrigin+"/a", 200, "a")
	env.network.Set(testOrigin+"/b", 200, "b")

	for _, gen := range []model.Generation{"v1", "v2", "v3"} {
		env.install(t, gen, "/a", "/b")
		env.worker.Dispatch(context.Background(), ActivateEvent{})
	}

	for _, gen := range []model.Generation{"v1", "v2"} {
		for _, p := range []string{"/a", "/b"} {
			_, ok := env.cached(t, gen, testOrigin+p)
			assert.False(t, ok, "%s%s", gen, p)
		}
	}
	_, ok := env.cached(t, "v3", testOrigin+"/a")
	assert.True(t, ok)
}
