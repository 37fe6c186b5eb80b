package web

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withSession returns a request carrying loaded (empty) session data so
// views that read flashes can be loaded outside the middleware.
func withSession(t *testing.T, app *App, r *http.Request) *http.Request {
	t.Helper()
	ctx, err := app.Session.Load(r.Context(), "")
	require.NoError(t, err)
	return r.WithContext(ctx)
}

func noRedirects() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func TestHomePage_Load(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	zoo, err := env.app.Service.CreateProject(ctx, &services.Project{Name: "Zoo"})
	require.NoError(t, err)
	_, err = env.app.Service.CreateDiagram(ctx, &services.Diagram{Name: "Animals", ProjectId: zoo.Id}, zooSnapshot())
	require.NoError(t, err)
	_, err = env.app.Service.CreateDiagram(ctx, &services.Diagram{Name: "Loose"}, nil)
	require.NoError(t, err)

	t.Run("All", func(t *testing.T) {
		r := withSession(t, env.app, httptest.NewRequest("GET", "/", nil))
		page := &HomePage{}
		err, finished := page.Load(r, httptest.NewRecorder(), env.app)
		require.NoError(t, err)
		assert.False(t, finished)
		assert.Equal(t, "Diagrams", page.Title)
		require.Len(t, page.Projects, 1)
		require.Len(t, page.Diagrams, 2)
		assert.Equal(t, "Animals", page.Diagrams[0].Name)
		assert.Equal(t, "Zoo", page.Diagrams[0].Project)
		assert.Empty(t, page.Diagrams[1].Project)
		assert.Len(t, page.Formats, 3)
	})

	t.Run("ByProject", func(t *testing.T) {
		r := withSession(t, env.app, httptest.NewRequest("GET", "/?projectId="+zoo.Id, nil))
		page := &HomePage{}
		err, _ := page.Load(r, httptest.NewRecorder(), env.app)
		require.NoError(t, err)
		require.Len(t, page.Diagrams, 1)
		assert.Equal(t, "Animals", page.Diagrams[0].Name)
	})

	t.Run("Flash", func(t *testing.T) {
		r := withSession(t, env.app, httptest.NewRequest("GET", "/", nil))
		env.app.Flash(r.Context(), "hello")
		page := &HomePage{}
		err, _ := page.Load(r, httptest.NewRecorder(), env.app)
		require.NoError(t, err)
		assert.Equal(t, "hello", page.Flash)
		assert.Empty(t, env.app.PopFlash(r.Context()), "flash is shown once")
	})
}

func TestDiagramEditorPage_Load(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.app.Service.CreateDiagram(context.Background(), &services.Diagram{Name: "Zoo"}, zooSnapshot())
	require.NoError(t, err)

	r := withSession(t, env.app, httptest.NewRequest("GET", "/diagrams/"+d.Id+"/edit", nil))
	r.SetPathValue("diagramId", d.Id)
	page := &DiagramEditorPage{}
	err, _ = page.Load(r, httptest.NewRecorder(), env.app)
	require.NoError(t, err)

	assert.Equal(t, "Zoo", page.Title)
	assert.Equal(t, "/ws/diagrams/"+d.Id, page.SocketPath)
	require.Len(t, page.Classes, 2)
	assert.Equal(t, "Animal", page.Classes[0].Name)
	assert.Contains(t, page.Classes[1].Source, "public class Dog extends Animal")
	assert.Contains(t, page.Mermaid, "classDiagram")
	assert.Contains(t, string(page.SnapshotJSON), `"name":"Dog"`)

	t.Run("Divergences", func(t *testing.T) {
		snap := zooSnapshot()
		snap.Nodes[1].Data.Extends = ""
		require.NoError(t, env.app.Service.ReplaceSnapshot(context.Background(), d.Id, snap))
		page := &DiagramEditorPage{}
		err, _ := page.Load(r, httptest.NewRecorder(), env.app)
		require.NoError(t, err)
		assert.Len(t, page.Divergences, 1)
	})

	t.Run("Missing", func(t *testing.T) {
		r := withSession(t, env.app, httptest.NewRequest("GET", "/diagrams/nope/edit", nil))
		r.SetPathValue("diagramId", "nope")
		err, _ := (&DiagramEditorPage{}).Load(r, httptest.NewRecorder(), env.app)
		assert.Error(t, err)
		assert.Equal(t, http.StatusNotFound, statusFor(err))
	})
}

func TestPages_Forms(t *testing.T) {
	env := newTestEnv(t)
	client := noRedirects()

	resp, err := client.PostForm(env.srv.URL+"/diagrams/new", url.Values{"name": {"Zoo"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/diagrams/") && strings.HasSuffix(loc, "/edit"), loc)

	diagrams, err := env.app.Service.ListDiagrams(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, diagrams, 1)
	assert.Equal(t, "Zoo", diagrams[0].Name)

	resp, err = client.PostForm(env.srv.URL+"/diagrams/new", url.Values{"name": {""}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, err = client.PostForm(env.srv.URL+"/projects/new", url.Values{"name": {"Farm"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	projects, err := env.app.Service.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)

	resp, err = http.Get(env.srv.URL + "/diagrams/nope/edit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := RequestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"path":"/missing"`)
}

func TestHomePage_LivePeers(t *testing.T) {
	store, err := services.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := services.NewDiagramService(store)
	hub := collab.NewHub(svc, nil)
	app := NewApp(svc, hub, AppConfig{TemplatesDir: "templates"})

	d, err := svc.CreateDiagram(context.Background(), &services.Diagram{Name: "Zoo"}, zooSnapshot())
	require.NoError(t, err)

	a, b := collab.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Serve(ctx, d.Id, "alice", b)
	}()
	_, err = a.ReadOperation(ctx)
	require.NoError(t, err)

	r := withSession(t, app, httptest.NewRequest("GET", "/", nil))
	page := &HomePage{}
	err, _ = page.Load(r, httptest.NewRecorder(), app)
	require.NoError(t, err)
	require.Len(t, page.Diagrams, 1)
	assert.Equal(t, 1, page.Diagrams[0].Live)

	cancel()
	<-done
	_, open := hub.Room(d.Id)
	assert.False(t, open)
}
