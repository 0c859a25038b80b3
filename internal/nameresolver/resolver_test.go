package nameresolver

import (
	"testing"

	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/stretchr/testify/require"
)

func TestAllocFindFree(t *testing.T) {
	names := map[directory.ID]string{1: "init2", 2: "worker-a"}
	r := New(8, func(id directory.ID) (string, bool) {
		n, ok := names[id]
		return n, ok
	})

	require.NoError(t, r.Alloc("init2", 1))
	require.NoError(t, r.Alloc("worker-a", 2))

	id, err := r.Find("init2")
	require.NoError(t, err)
	require.Equal(t, directory.ID(1), id)

	id, err = r.Find("worker-a")
	require.NoError(t, err)
	require.Equal(t, directory.ID(2), id)

	_, err = r.Find("missing")
	require.Error(t, err)

	require.NoError(t, r.Free("init2", 1))
	_, err = r.Find("init2")
	require.Error(t, err)
}

func TestAllocReusesTombstone(t *testing.T) {
	names := map[directory.ID]string{1: "a", 2: "b"}
	r := New(1, func(id directory.ID) (string, bool) {
		n, ok := names[id]
		return n, ok
	})

	require.NoError(t, r.Alloc("a", 1))
	require.NoError(t, r.Free("a", 1))
	require.NoError(t, r.Alloc("b", 2))

	id, err := r.Find("b")
	require.NoError(t, err)
	require.Equal(t, directory.ID(2), id)
}
