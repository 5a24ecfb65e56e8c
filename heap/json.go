package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/heapkit/memutils"
)

func writeHeapJson(json *jwriter.ObjectState, strategy Strategy, stats *memutils.DetailedStatistics) {
	json.Name("Strategy").String(strategy.String())
	json.Name("GrowCount").Int(stats.GrowCount)
	json.Name("ClaimedBytes").Int(stats.ClaimedBytes)
	json.Name("UsedBytes").Int(stats.UsedBytes())
	json.Name("FreeBytes").Int(stats.FreeBytes)
	json.Name("BumpBytes").Int(stats.BumpBytes)
	json.Name("FreeBlockCount").Int(stats.FreeBlockCount)
	json.Name("Fragmentation").Float64(stats.Fragmentation())
}

func writeFreeBlockJson(array *jwriter.ArrayState, addr, size uintptr) {
	obj := array.Object()
	defer obj.End()

	obj.Name("Address").Int(int(addr))
	obj.Name("Size").Int(int(size))
}
