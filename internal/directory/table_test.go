package directory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocLockUnlock(t *testing.T) {
	tbl := New[int](4)

	id, err := tbl.Alloc(42, 1)
	require.NoError(t, err)
	require.NotEqual(t, Invalid, id)

	p := tbl.Lock(id)
	require.NotNil(t, p)
	require.Equal(t, 42, *p)
	require.NoError(t, tbl.Unlock(id, nil)) // release Lock's reference
	require.NoError(t, tbl.Unlock(id, nil)) // release Alloc's reference, frees it

	require.Nil(t, tbl.Lock(id))
}

func TestZeroRefAllocPublishesViaLockFirst(t *testing.T) {
	tbl := New[int](4)

	id, err := tbl.Alloc(5, 0)
	require.NoError(t, err)

	// Unpublished: a concurrent Lock must not be able to pin the slot.
	require.Nil(t, tbl.Lock(id))

	p := tbl.LockFirst(id)
	require.NotNil(t, p)
	require.Equal(t, 5, *p)
	require.Nil(t, tbl.LockFirst(id), "a second LockFirst must refuse a published slot")

	require.NotNil(t, tbl.Lock(id)) // refcount 2
	require.NoError(t, tbl.Unlock(id, nil))
	require.NoError(t, tbl.Unlock(id, nil))
	require.Nil(t, tbl.Lock(id))
}

func TestLockInvalidID(t *testing.T) {
	tbl := New[int](4)
	require.Nil(t, tbl.Lock(Invalid))
	require.Nil(t, tbl.Lock(ID(999999)))
}

func TestGenerationNeverReissuedBackToBack(t *testing.T) {
	tbl := New[int](1)

	id1, err := tbl.Alloc(1, 1)
	require.NoError(t, err)
	require.NoError(t, tbl.Unlock(id1, nil))

	id2, err := tbl.Alloc(2, 1)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2, "same slot must not reissue the same ID back-to-back")

	// the stale id1 must never resolve to the new occupant.
	require.Nil(t, tbl.Lock(id1))
	p := tbl.Lock(id2)
	require.NotNil(t, p)
	require.Equal(t, 2, *p)
}

func TestAllocOutOfMemory(t *testing.T) {
	tbl := New[int](2)
	_, err := tbl.Alloc(1, 1)
	require.NoError(t, err)
	_, err = tbl.Alloc(2, 1)
	require.NoError(t, err)
	_, err = tbl.Alloc(3, 1)
	require.Error(t, err)
}

func TestTryUnlockFinalOnlyFiresAtOne(t *testing.T) {
	tbl := New[int](4)
	id, err := tbl.Alloc(1, 1)
	require.NoError(t, err)
	require.NotNil(t, tbl.Lock(id)) // refcount now 2

	fired, err := tbl.TryUnlockFinal(id, nil)
	require.NoError(t, err)
	require.False(t, fired, "must not fire while refcount > 1")

	require.NoError(t, tbl.Unlock(id, nil)) // back to 1

	var freed bool
	fired, err = tbl.TryUnlockFinal(id, func(int) { freed = true })
	require.NoError(t, err)
	require.True(t, fired)
	require.True(t, freed)
}

func TestConcurrentLockUnlockSafeDuringDestroy(t *testing.T) {
	tbl := New[int](8)
	id, err := tbl.Alloc(7, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	const n = 64
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if p := tbl.Lock(id); p != nil {
				_ = *p
				_ = tbl.Unlock(id, nil)
			}
		}()
	}
	// race the initial owner's release against the lockers above.
	_ = tbl.Unlock(id, nil)
	wg.Wait()

	require.Nil(t, tbl.Lock(id))
}
