// Package gpuload resolves GPU and CPU utilization from several
// unreliable sources: a third-party tool's shared memory sensor table,
// OS GPU engine utilization counters, and the live hardware sensor
// tree. Each source can be absent or flaky; the resolver hides that
// behind one stable percentage per query.
package gpuload

// Service bundles the resolver, CPU reader and hardware tree for the
// host server. One instance is shared across all requests.
type Service struct {
	resolver *Resolver
	cpu      *CPUReader
	tree     *HardwareTree
}

func NewService() *Service {
	tree := NewHardwareTree()
	return &Service{
		resolver: NewResolver(
			NewSharedMemoryReader(),
			NewSensorReader(tree),
			NewCounterAggregator(),
		),
		cpu:  NewCPUReader(),
		tree: tree,
	}
}

func (s *Service) ResolveGPU(preferSharedMemory bool) float64 {
	return s.resolver.Resolve(preferSharedMemory)
}

func (s *Service) ResolveCPU() float64 {
	return s.cpu.Read()
}

func (s *Service) Dump() []DeviceDump {
	return dumpDevices(s.tree.Devices())
}
