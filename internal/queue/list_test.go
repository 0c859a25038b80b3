package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListPushBackRemove(t *testing.T) {
	var l List[string]
	a := &DNode[string]{Value: "a"}
	b := &DNode[string]{Value: "b"}
	c := &DNode[string]{Value: "c"}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)
	require.Equal(t, 3, l.Len())
	require.True(t, l.Contains(b))

	require.True(t, l.Remove(b))
	require.False(t, l.Remove(b), "a node can only be removed once")
	require.False(t, b.Linked())
	require.Equal(t, 2, l.Len())

	var got []string
	for n := l.Front(); n != nil; n = l.Next(n) {
		got = append(got, n.Value)
	}
	require.Equal(t, []string{"a", "c"}, got)
}

func TestListRemoveHeadAndTail(t *testing.T) {
	var l List[int]
	a := &DNode[int]{Value: 1}
	b := &DNode[int]{Value: 2}
	l.PushBack(a)
	l.PushBack(b)

	require.True(t, l.Remove(a))
	require.Same(t, b, l.Front())
	require.True(t, l.Remove(b))
	require.Nil(t, l.Front())
	require.Equal(t, 0, l.Len())

	// A fully drained list accepts the same nodes again.
	l.PushBack(a)
	require.Equal(t, 1, l.Len())
}

func TestListDoubleLinkPanics(t *testing.T) {
	var l, other List[int]
	n := &DNode[int]{Value: 1}
	l.PushBack(n)
	require.Panics(t, func() { other.PushBack(n) })
	require.False(t, other.Remove(n), "Remove from the wrong list must refuse")
}
