package selection

import (
	"testing"

	"docchat-go/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestStore_Defaults(t *testing.T) {
	s := NewStore()

	snap := s.Snapshot()
	assert.Equal(t, model.ModeRAG, snap.Mode)
	assert.Empty(t, snap.DocumentIDs)
	assert.Empty(t, snap.TemplateIDs)
}

func TestStore_ToggleTwiceHasNoNetEffect(t *testing.T) {
	s := NewStore()

	assert.True(t, s.ToggleDocument("d1"))
	assert.False(t, s.ToggleDocument("d1"))
	assert.True(t, s.ToggleTemplate("t1"))
	assert.False(t, s.ToggleTemplate("t1"))

	docs, templates := s.Counts()
	assert.Zero(t, docs)
	assert.Zero(t, templates)
	assert.False(t, s.DocumentSelected("d1"))
	assert.False(t, s.TemplateSelected("t1"))
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := NewStore()
	s.ToggleDocument("d2")
	s.ToggleDocument("d1")
	s.ToggleTemplate("t1")

	snap := s.Snapshot()
	assert.Equal(t, []string{"d1", "d2"}, snap.DocumentIDs)

	s.SetMode(model.ModeFlare)
	s.ToggleDocument("d1")
	s.ToggleDocument("d3")
	s.ToggleTemplate("t1")

	assert.Equal(t, model.ModeRAG, snap.Mode)
	assert.Equal(t, []string{"d1", "d2"}, snap.DocumentIDs)
	assert.Equal(t, []string{"t1"}, snap.TemplateIDs)

	snap.DocumentIDs[0] = "mutated"
	assert.True(t, s.DocumentSelected("d2"))
	assert.Equal(t, []string{"d2", "d3"}, s.Snapshot().DocumentIDs)
}

func TestStore_ClearDocuments(t *testing.T) {
	s := NewStore()
	s.ToggleDocument("d1")
	s.ToggleTemplate("t1")

	s.ClearDocuments()

	docs, templates := s.Counts()
	assert.Zero(t, docs)
	assert.Equal(t, 1, templates)
}
