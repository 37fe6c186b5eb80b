package diagram

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classNode(id, name string) *Node {
	return &Node{
		ID:       id,
		Position: Point{X: 10, Y: 20},
		Size:     Size{Width: 160, Height: 90},
		Data:     NodeData{Name: name, Type: TypeClass},
	}
}

func TestDiagram_UniqueIDsAcrossFamilies(t *testing.T) {
	d := NewDiagram("d1", "Zoo")
	require.NoError(t, d.AddNode(classNode("a", "Animal")))
	require.NoError(t, d.AddNode(classNode("b", "Dog")))

	err := d.AddEdge(&Edge{ID: "a", Source: "b", Target: "a", Kind: Extend})
	assert.ErrorIs(t, err, ErrDuplicateID)

	err = d.AddNode(classNode("a", "Again"))
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.ErrorIs(t, d.AddNode(classNode("", "NoID")), ErrEmptyID)
}

func TestDiagram_RemoveCascadesEdges(t *testing.T) {
	d := NewDiagram("d1", "Zoo")
	require.NoError(t, d.AddNode(classNode("a", "Animal")))
	require.NoError(t, d.AddNode(classNode("b", "Dog")))
	require.NoError(t, d.AddNode(classNode("c", "Cat")))
	require.NoError(t, d.AddEdge(&Edge{ID: "e1", Source: "b", Target: "a", Kind: Extend}))
	require.NoError(t, d.AddEdge(&Edge{ID: "e2", Source: "c", Target: "a", Kind: Extend}))
	require.NoError(t, d.AddEdge(&Edge{ID: "e3", Source: "b", Target: "c", Kind: Association}))

	removed, cascaded := d.Remove("a")
	require.NotNil(t, removed)
	assert.Equal(t, KindNode, removed.CellKind())
	require.Len(t, cascaded, 2)
	assert.Equal(t, "e1", cascaded[0].ID)
	assert.Equal(t, "e2", cascaded[1].ID)
	assert.False(t, d.Has("e1"))
	assert.True(t, d.Has("e3"))
	assert.Equal(t, 3, d.Len())

	t.Run("absent id is a no-op", func(t *testing.T) {
		removed, cascaded := d.Remove("a")
		assert.Nil(t, removed)
		assert.Empty(t, cascaded)
		assert.Equal(t, 3, d.Len())
	})
}

func TestDiagram_DanglingEdgesAreTolerated(t *testing.T) {
	d := NewDiagram("d1", "Zoo")
	require.NoError(t, d.AddEdge(&Edge{ID: "e1", Source: "b", Target: "a", Kind: Implement}))
	assert.Len(t, d.Edges(), 1)
	assert.Empty(t, d.RenderableEdges())
	assert.Error(t, d.Validate())

	require.NoError(t, d.AddNode(classNode("a", "Runnable")))
	require.NoError(t, d.AddNode(classNode("b", "Task")))
	assert.Len(t, d.RenderableEdges(), 1)
	assert.NoError(t, d.Validate())
}

func TestDiagram_ValidateReportsUnknownTypes(t *testing.T) {
	d := NewDiagram("d1", "Zoo")
	n := classNode("a", "Animal")
	n.Data.Type = "struct"
	require.NoError(t, d.AddNode(n))
	require.NoError(t, d.AddNode(classNode("b", "Dog")))
	require.NoError(t, d.AddEdge(&Edge{ID: "e1", Source: "b", Target: "a", Kind: "friendship"}))

	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "struct"`)
	assert.Contains(t, err.Error(), `unknown kind "friendship"`)
}

func TestSnapshot_RoundTripKeepsOrder(t *testing.T) {
	d := NewDiagram("d1", "Zoo")
	require.NoError(t, d.AddNode(classNode("a", "Animal")))
	require.NoError(t, d.AddEdge(&Edge{ID: "e1", Source: "b", Target: "a", Kind: Extend}))
	require.NoError(t, d.AddNode(classNode("b", "Dog")))

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(d.Snapshot()))
	snap, err := DecodeSnapshot(&buf)
	require.NoError(t, err)

	rebuilt, err := FromSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(rebuilt.Nodes()))
	assert.Len(t, rebuilt.RenderableEdges(), 1)
	assert.Equal(t, "Zoo", rebuilt.Name)
}

func TestFromSnapshot_RejectsNullEntries(t *testing.T) {
	for name, doc := range map[string]string{
		"node": `{"id":"d","nodes":[null],"edges":[]}`,
		"edge": `{"id":"d","nodes":[{"id":"a"}],"edges":[null]}`,
	} {
		t.Run(name, func(t *testing.T) {
			snap, err := DecodeSnapshot(strings.NewReader(doc))
			require.NoError(t, err)
			_, err = FromSnapshot(snap)
			assert.ErrorIs(t, err, ErrEmptyID)
		})
	}
	_, err := FromSnapshot(nil)
	assert.Error(t, err)
}

func TestDiagram_CloneIsDeep(t *testing.T) {
	d := NewDiagram("d1", "Zoo")
	n := classNode("a", "Animal")
	n.Data.Variables = []Variable{{Name: "age", Type: "int"}}
	require.NoError(t, d.AddNode(n))

	c := d.Clone()
	cn, _ := c.Node("a")
	cn.Data.Variables[0].Name = "legs"
	cn.Position.X = 99

	orig, _ := d.Node("a")
	assert.Equal(t, "age", orig.Data.Variables[0].Name)
	assert.Equal(t, 10.0, orig.Position.X)
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
