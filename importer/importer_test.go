package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *diagram.Snapshot {
	return &diagram.Snapshot{
		ID:   "d1",
		Name: "Zoo",
		Nodes: []*diagram.Node{
			{ID: "a", Data: diagram.NodeData{Name: "Animal", Type: diagram.TypeClass}},
			{ID: "d", Data: diagram.NodeData{Name: "Dog", Type: diagram.TypeClass}},
		},
		Edges: []*diagram.Edge{{ID: "e", Source: "d", Target: "a", Kind: diagram.Extend}},
	}
}

func archive(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestImport_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteProjectArchive(&buf, sample()))

	snap, err := New(0).Import(&buf, "application/zip", "zoo.zip")
	require.NoError(t, err)
	assert.Equal(t, "Zoo", snap.Name)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)
}

func TestCheckType(t *testing.T) {
	tests := []struct {
		contentType, filename string
		ok                    bool
	}{
		{"application/zip", "x.zip", true},
		{"application/x-zip-compressed", "x", true},
		{"application/octet-stream", "Project.ZIP", true},
		{"application/octet-stream", "project.tar", false},
		{"text/plain; charset=utf-8", "x.zip", false},
		{"", "x.zip", false},
	}
	for _, tt := range tests {
		err := CheckType(tt.contentType, tt.filename)
		if tt.ok {
			assert.NoError(t, err, tt.contentType)
		} else {
			assert.ErrorIs(t, err, ErrUnsupportedType, tt.contentType)
		}
	}
}

// failingReader proves the body is never touched when the type is wrong.
type failingReader struct{ t *testing.T }

func (f failingReader) Read([]byte) (int, error) {
	f.t.Fatal("body read before type check")
	return 0, nil
}

func TestImport_RejectsBeforeReading(t *testing.T) {
	_, err := New(0).Import(failingReader{t}, "image/png", "cat.png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestImport_TooLarge(t *testing.T) {
	data := archive(t, "p/diagram.json", strings.Repeat(" ", 4096)+"{}")
	_, err := New(1024).Import(bytes.NewReader(data), "application/zip", "p.zip")
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}

func TestImport_Malformed(t *testing.T) {
	im := New(0)
	cases := map[string][]byte{
		"not a zip":     []byte("hello"),
		"no diagram":    archive(t, "p/readme.txt", "hi"),
		"bad json":      archive(t, "p/diagram.json", "{"),
		"dangling edge": archive(t, "p/diagram.json", `{"id":"d","name":"n","nodes":[],"edges":[{"id":"e","source":"x","target":"y","kind":"extend"}]}`),
		"null node":     archive(t, "p/diagram.json", `{"id":"d","name":"n","nodes":[null],"edges":[]}`),
		"null edge":     archive(t, "p/diagram.json", `{"id":"d","name":"n","nodes":[],"edges":[null]}`),
		"duplicate ids": archive(t, "p/diagram.json", `{"id":"d","name":"n","nodes":[{"id":"a","data":{"name":"A","type":"class"}},{"id":"a","data":{"name":"B","type":"class"}}],"edges":[]}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := im.Import(bytes.NewReader(data), "application/zip", "p.zip")
			assert.ErrorIs(t, err, ErrMalformedArchive)
		})
	}
}
