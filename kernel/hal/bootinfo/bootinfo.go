package bootinfo

// MemRegionType defines the type of a MemRegion.
type MemRegionType uint32

const (
	// RegionAvailable indicates that the memory region is available for use.
	RegionAvailable MemRegionType = iota + 1

	// RegionReserved indicates that the memory region is not available for use.
	RegionReserved

	// RegionKernel indicates the memory region occupied by the kernel image.
	RegionKernel

	// Any value >= regionUnknown will be mapped to RegionReserved.
	regionUnknown
)

// String implements fmt.Stringer for MemRegionType.
func (t MemRegionType) String() string {
	switch t {
	case RegionAvailable:
		return "available"
	case RegionReserved:
		return "reserved"
	case RegionKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// MemRegion describes a physical memory region, namely its base address, its
// length and its type.
type MemRegion struct {
	// The physical base address for this memory region.
	Base uint64

	// The length of the memory region in bytes.
	Length uint64

	// The type of this region.
	Type MemRegionType
}

// maxMemRegions bounds the number of memory map entries the loader can pass.
const maxMemRegions = 32

// Info describes the machine state handed over by the loader: the physical
// memory map, the location of the kernel image and basic CPU topology.
type Info struct {
	// KernelStart and KernelEnd delimit the physical region occupied by
	// the kernel image. Frames inside it are never handed out.
	KernelStart uintptr
	KernelEnd   uintptr

	// CPUFreqMHz is the TSC frequency measured by the loader.
	CPUFreqMHz uint32

	// CoreCount is the number of usable cores reported by the loader.
	CoreCount uint32

	// CmdLine is the kernel command line passed by the loader.
	CmdLine string

	regions     [maxMemRegions]MemRegion
	regionCount int
}

// AddMemRegion appends an entry to the memory map. Entries with an unknown
// type are recorded as reserved. Entries beyond the map capacity are dropped.
func (inf *Info) AddMemRegion(region MemRegion) {
	if inf.regionCount == maxMemRegions {
		return
	}
	if region.Type == 0 || region.Type >= regionUnknown {
		region.Type = RegionReserved
	}
	inf.regions[inf.regionCount] = region
	inf.regionCount++
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the loader. The visitor
// must return true to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemRegion) bool

// VisitMemRegions invokes the supplied visitor for each memory region in the
// loader-provided memory map.
func (inf *Info) VisitMemRegions(visitor MemRegionVisitor) {
	for i := 0; i < inf.regionCount; i++ {
		if !visitor(&inf.regions[i]) {
			return
		}
	}
}

var active *Info

// Set registers the boot information block for the rest of the kernel to
// consume. It must be invoked exactly once before any subsystem Init.
func Set(inf *Info) {
	active = inf
}

// Get returns the registered boot information block or nil before Set.
func Get() *Info {
	return active
}
