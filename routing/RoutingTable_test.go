package routing

import (
	"fmt"
	"testing"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, bucketSize int) (*RoutingTable, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	return NewRoutingTable(types.NewRandomID(), bucketSize, clk), clk
}

func Test_Update_Inserts_And_Refreshes(t *testing.T) {
	rt, clk := newTable(t, 4)
	id := rt.RandomIDInBucket(150)

	assert.True(t, rt.Update(id, "10.0.0.1:4001"))
	assert.Equal(t, 1, rt.Size())

	clk.Add(time.Minute)
	assert.False(t, rt.Update(id, "10.0.0.2:4001"))
	addr, ok := rt.GetAddr(id)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:4001", addr)

	peers := rt.ListKnownPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, clk.Now(), peers[0].LastSeen)
}

func Test_Update_Ignores_Self_And_Unaddressed_Peers(t *testing.T) {
	rt, _ := newTable(t, 4)
	assert.False(t, rt.Update(rt.Self(), "10.0.0.1:4001"))
	assert.False(t, rt.Update(types.NewRandomID(), ""))
	assert.Equal(t, 0, rt.Size())
}

func Test_Full_Bucket_Evicts_Least_Recently_Seen(t *testing.T) {
	rt, clk := newTable(t, 3)
	ids := make([]types.NodeID, 4)
	for i := range ids {
		ids[i] = rt.RandomIDInBucket(159)
	}

	for i := 0; i < 3; i++ {
		rt.Update(ids[i], fmt.Sprintf("10.0.0.%d:4001", i))
		clk.Add(time.Second)
	}
	// touching ids[0] makes ids[1] the least recently seen.
	rt.Update(ids[0], "")
	rt.Update(ids[3], "10.0.0.3:4001")

	assert.Equal(t, 3, rt.Size())
	_, ok := rt.GetAddr(ids[1])
	assert.False(t, ok)
	_, ok = rt.GetAddr(ids[0])
	assert.True(t, ok)
}

func Test_Full_Bucket_Evicts_Failing_Peer_First(t *testing.T) {
	rt, _ := newTable(t, 3)
	ids := make([]types.NodeID, 4)
	for i := range ids {
		ids[i] = rt.RandomIDInBucket(159)
	}
	for i := 0; i < 3; i++ {
		rt.Update(ids[i], fmt.Sprintf("10.0.0.%d:4001", i))
	}

	assert.False(t, rt.MarkFailed(ids[2], 3))
	rt.Update(ids[3], "10.0.0.3:4001")

	_, ok := rt.GetAddr(ids[2])
	assert.False(t, ok)
	_, ok = rt.GetAddr(ids[0])
	assert.True(t, ok)
}

func Test_Mark_Failed_Prunes_After_Threshold(t *testing.T) {
	rt, _ := newTable(t, 20)
	id := rt.RandomIDInBucket(100)
	rt.Update(id, "10.0.0.1:4001")

	assert.False(t, rt.MarkFailed(id, 3))
	assert.False(t, rt.MarkFailed(id, 3))

	// a successful contact resets the count.
	rt.Update(id, "")
	assert.False(t, rt.MarkFailed(id, 3))
	assert.False(t, rt.MarkFailed(id, 3))
	assert.True(t, rt.MarkFailed(id, 3))
	assert.Equal(t, 0, rt.Size())

	assert.False(t, rt.MarkFailed(id, 3))
}

func Test_Closest_Orders_By_XOR_Distance(t *testing.T) {
	rt, _ := newTable(t, 20)
	for i := 0; i < 50; i++ {
		rt.Update(types.NewRandomID(), fmt.Sprintf("10.0.%d.1:4001", i))
	}
	target := types.NewRandomID()

	closest := rt.Closest(target, 10)
	require.Len(t, closest, 10)
	for i := 1; i < len(closest); i++ {
		assert.LessOrEqual(t, types.CompareDistance(closest[i-1].ID, closest[i].ID, target), 0)
	}

	all := rt.Closest(target, 1000)
	assert.Len(t, all, rt.Size())
	for _, p := range all[10:] {
		assert.Equal(t, 1, types.CompareDistance(p.ID, closest[9].ID, target))
	}
}

func Test_Remove(t *testing.T) {
	rt, _ := newTable(t, 20)
	id := types.NewRandomID()
	rt.Update(id, "10.0.0.1:4001")

	assert.True(t, rt.Remove(id))
	assert.False(t, rt.Remove(id))
	assert.False(t, rt.Remove(rt.Self()))
}

func Test_Stale_Buckets(t *testing.T) {
	rt, clk := newTable(t, 20)
	a := rt.RandomIDInBucket(159)
	b := rt.RandomIDInBucket(158)
	rt.Update(a, "10.0.0.1:4001")
	rt.Update(b, "10.0.0.2:4001")

	assert.Empty(t, rt.StaleBuckets(15*time.Minute))

	clk.Add(20 * time.Minute)
	rt.Update(a, "")
	assert.Equal(t, []int{158}, rt.StaleBuckets(15*time.Minute))

	rt.TouchBucket(b)
	assert.Empty(t, rt.StaleBuckets(15*time.Minute))
}

func Test_Random_ID_In_Bucket(t *testing.T) {
	rt, _ := newTable(t, 20)
	for _, idx := range []int{0, 1, 80, 158, 159} {
		assert.Equal(t, idx, BucketIndex(rt.Self(), rt.RandomIDInBucket(idx)))
	}
	assert.Equal(t, -1, BucketIndex(rt.Self(), rt.Self()))
}
