package fat

import (
	"testing"

	"github.com/antaechan/pintos-go/block"
	"github.com/stretchr/testify/require"
)

func freshFS(t *testing.T) *FS {
	t.Helper()
	disk := block.NewMemDisk(64)
	fsys, err := Open(disk)
	require.Equal(t, int(0), int(err))
	return fsys
}

func fatSnapshot(fsys *FS) []uint32 {
	cp := make([]uint32, len(fsys.fat))
	copy(cp, fsys.fat)
	return cp
}

func TestAllocateThenRemoveChainIsNoop(t *testing.T) {
	fsys := freshFS(t)
	before := fatSnapshot(fsys)

	sector, err := fsys.Allocate(5)
	require.Equal(t, int(0), int(err))
	require.NotZero(t, sector)

	start := fsys.ToCluster(sector)
	fsys.RemoveChain(start, 0)

	after := fatSnapshot(fsys)
	require.Equal(t, before, after)
}

func TestEveryClusterFreeXorReachable(t *testing.T) {
	fsys := freshFS(t)
	_, err := fsys.Allocate(3)
	require.Equal(t, int(0), int(err))

	reachable := map[uint32]bool{}
	reachable[fsys.RootDirCluster()] = true
	for c := fsys.RootDirCluster() + 1; int(c) < len(fsys.fat); c++ {
		if fsys.get(c) != 0 {
			for cur := c; ; {
				reachable[cur] = true
				next := fsys.get(cur)
				if next == eoChain {
					break
				}
				cur = next
			}
		}
	}

	for c := uint32(1); int(c) < len(fsys.fat); c++ {
		free := fsys.get(c) == 0
		require.NotEqual(t, free, reachable[c], "cluster %d must be exactly one of free/reachable", c)
	}
}

func TestCreateChainExtendsExisting(t *testing.T) {
	fsys := freshFS(t)
	head := fsys.CreateChain(0)
	require.NotZero(t, head)
	next := fsys.CreateChain(head)
	require.NotZero(t, next)
	require.Equal(t, next, fsys.get(head))
	require.Equal(t, uint32(eoChain), fsys.get(next))
}

func TestAllocateExhaustion(t *testing.T) {
	disk := block.NewMemDisk(4)
	fsys, err := Open(disk)
	require.Equal(t, int(0), int(err))

	_, aerr := fsys.Allocate(1 << 20)
	require.NotEqual(t, int(0), int(aerr))
}

func TestToSectorToClusterRoundTrip(t *testing.T) {
	fsys := freshFS(t)
	head := fsys.CreateChain(0)
	sector := fsys.ToSector(head)
	require.Equal(t, head, fsys.ToCluster(sector))
}
