package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/export"
	"github.com/panyam/classdraw/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app *App
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := services.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := services.NewDiagramService(store)
	app := NewApp(svc, collab.NewHub(svc, nil), AppConfig{TemplatesDir: "templates", MaxImportSize: 1 << 20})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{app: app, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func zooSnapshot() *diagram.Snapshot {
	return &diagram.Snapshot{
		Name: "Zoo",
		Nodes: []*diagram.Node{
			{ID: "a", Data: diagram.NodeData{Name: "Animal", Type: diagram.TypeClass}},
			{ID: "d", Data: diagram.NodeData{Name: "Dog", Type: diagram.TypeClass, Extends: "Animal"}},
		},
		Edges: []*diagram.Edge{{ID: "e", Source: "d", Target: "a", Kind: diagram.Extend}},
	}
}

func TestApi_ProjectsAndDiagrams(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/projects", map[string]string{"name": "Zoo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	project := decode[services.Project](t, resp)
	assert.NotEmpty(t, project.Id)

	resp = env.do(t, "POST", "/api/projects", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidArgument", decode[errorBody](t, resp).Code)

	resp = env.do(t, "POST", "/api/diagrams", map[string]any{"name": "Animals", "projectId": project.Id, "snapshot": zooSnapshot()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[services.Diagram](t, resp)

	resp = env.do(t, "GET", "/api/diagrams?projectId="+project.Id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]services.Diagram](t, resp)
	require.Len(t, list["diagrams"], 1)
	assert.Equal(t, created.Id, list["diagrams"][0].Id)

	resp = env.do(t, "GET", "/api/diagrams/"+created.Id+"/snapshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[diagram.Snapshot](t, resp)
	assert.Equal(t, created.Id, snap.ID)
	assert.Len(t, snap.Nodes, 2)

	resp = env.do(t, "GET", "/api/diagrams/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, "DELETE", "/api/diagrams/"+created.Id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, "GET", "/api/diagrams/"+created.Id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApi_PutSnapshot(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.app.Service.CreateDiagram(context.Background(), &services.Diagram{Name: "Zoo"}, nil)
	require.NoError(t, err)

	resp := env.do(t, "PUT", "/api/diagrams/"+d.Id+"/snapshot", zooSnapshot())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	bad := zooSnapshot()
	bad.Edges[0].Kind = "friendship"
	resp = env.do(t, "PUT", "/api/diagrams/"+d.Id+"/snapshot", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got, err := env.app.Service.GetDiagram(context.Background(), d.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(b)
	}
	return out
}

func TestApi_Export(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.app.Service.CreateDiagram(context.Background(), &services.Diagram{Name: "Zoo"}, zooSnapshot())
	require.NoError(t, err)

	resp := env.do(t, "GET", "/api/diagrams/"+d.Id+"/export?format=java", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Zoo.zip")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	files := readZip(t, data)
	assert.Contains(t, files["Zoo/Dog.java"], "public class Dog extends Animal")
	assert.Contains(t, files, "Zoo/Animal.java")

	resp = env.do(t, "GET", "/api/diagrams/"+d.Id+"/export?format=cobol", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	empty, err := env.app.Service.CreateDiagram(context.Background(), &services.Diagram{Name: "Empty"}, nil)
	require.NoError(t, err)
	resp = env.do(t, "GET", "/api/diagrams/"+empty.Id+"/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestApi_Import(t *testing.T) {
	env := newTestEnv(t)
	var archive bytes.Buffer
	require.NoError(t, export.WriteProjectArchive(&archive, zooSnapshot()))

	t.Run("RawBody", func(t *testing.T) {
		resp, err := http.Post(env.srv.URL+"/api/import?filename=zoo.zip", "application/zip", bytes.NewReader(archive.Bytes()))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		d := decode[services.Diagram](t, resp)
		assert.Equal(t, "Zoo", d.Name)

		snap, err := env.app.Service.GetSnapshot(context.Background(), d.Id)
		require.NoError(t, err)
		assert.Len(t, snap.Nodes, 2)
	})

	t.Run("Multipart", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="file"; filename="zoo.zip"`}
		h["Content-Type"] = []string{"application/zip"}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(archive.Bytes())
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, err := http.Post(env.srv.URL+"/api/import", mw.FormDataContentType(), &body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("WrongType", func(t *testing.T) {
		resp, err := http.Post(env.srv.URL+"/api/import?filename=cat.png", "image/png", strings.NewReader("png"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("Malformed", func(t *testing.T) {
		resp, err := http.Post(env.srv.URL+"/api/import?filename=x.zip", "application/zip", strings.NewReader("not a zip"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// multipartUpload builds a form with the given fields in order; a field with
// a content type is sent as a file part.
func multipartUpload(t *testing.T, fields ...[3]string) (string, *bytes.Buffer) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range fields {
		name, contentType, content := f[0], f[1], f[2]
		h := make(textproto.MIMEHeader)
		if contentType == "" {
			h.Set("Content-Disposition", `form-data; name="`+name+`"`)
		} else {
			h.Set("Content-Disposition", `form-data; name="`+name+`"; filename="upload.bin"`)
			h.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &body
}

func TestApi_ImportLimits(t *testing.T) {
	env := newTestEnv(t)
	env.app.config.MaxImportSize = 4096
	post := func(t *testing.T, contentType string, body io.Reader) int {
		resp, err := http.Post(env.srv.URL+"/api/import", contentType, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("OversizedFile", func(t *testing.T) {
		ct, body := multipartUpload(t, [3]string{"file", "application/zip", strings.Repeat("z", 16<<10)})
		assert.Equal(t, http.StatusRequestEntityTooLarge, post(t, ct, body))
	})

	t.Run("WrongTypeIsCheckedFirst", func(t *testing.T) {
		// larger than the cap too, but the type is what gets reported
		ct, body := multipartUpload(t, [3]string{"file", "image/png", strings.Repeat("p", 16<<10)})
		assert.Equal(t, http.StatusUnsupportedMediaType, post(t, ct, body))
	})

	t.Run("OversizedForm", func(t *testing.T) {
		ct, body := multipartUpload(t,
			[3]string{"note", "", strings.Repeat("n", 100<<10)},
			[3]string{"file", "application/zip", "PK"})
		assert.Equal(t, http.StatusRequestEntityTooLarge, post(t, ct, body))
	})

	t.Run("MissingFile", func(t *testing.T) {
		ct, body := multipartUpload(t, [3]string{"note", "", "hello"})
		assert.Equal(t, http.StatusBadRequest, post(t, ct, body))
	})

	var archive bytes.Buffer
	require.NoError(t, export.WriteProjectArchive(&archive, zooSnapshot()))
	require.Less(t, archive.Len(), 4096)
	t.Run("WithinLimit", func(t *testing.T) {
		ct, body := multipartUpload(t,
			[3]string{"note", "", "hello"},
			[3]string{"file", "application/zip", archive.String()})
		assert.Equal(t, http.StatusCreated, post(t, ct, body))
	})
}

func TestLive_RoomAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.app.Service.CreateDiagram(context.Background(), &services.Diagram{Name: "Zoo"}, zooSnapshot())
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/diagrams/"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = collab.WebSocketDialer(url+"ghost?session=alice", nil)(ctx)
	assert.Error(t, err, "unknown diagrams are refused before the upgrade")

	alice, err := collab.WebSocketDialer(url+d.Id+"?session=alice", nil)(ctx)
	require.NoError(t, err)
	defer alice.Close()

	hello, err := alice.ReadOperation(ctx)
	require.NoError(t, err)
	require.Equal(t, collab.MsgSnapshot, hello.Type)

	cat := &diagram.Node{ID: "c", Data: diagram.NodeData{Name: "Cat", Type: diagram.TypeClass}}
	require.NoError(t, alice.WriteOperation(ctx, collab.NewAddNode(cat)))

	// the snapshot endpoint reads through to the live room
	assert.Eventually(t, func() bool {
		resp := env.do(t, "GET", "/api/diagrams/"+d.Id+"/snapshot", nil)
		snap := decode[diagram.Snapshot](t, resp)
		return len(snap.Nodes) == 3
	}, 2*time.Second, 10*time.Millisecond)

	resp := env.do(t, "PUT", "/api/diagrams/"+d.Id+"/snapshot", zooSnapshot())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// the last peer out saves the room
	alice.Close()
	require.Eventually(t, func() bool {
		_, open := env.app.Hub.Room(d.Id)
		return !open
	}, 2*time.Second, 10*time.Millisecond)
	snap, err := env.app.Service.GetSnapshot(ctx, d.Id)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 3)
}
