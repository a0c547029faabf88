package resource

import "fmt"

// ResourceList is a fixed three-dimensional resource vector.
// All arithmetic is over integers; there are no fractional resources.
type ResourceList struct {
	Cpu int64
	Ram int64
	Gpu int64
}

func (a ResourceList) Add(b ResourceList) ResourceList {
	return ResourceList{
		Cpu: a.Cpu + b.Cpu,
		Ram: a.Ram + b.Ram,
		Gpu: a.Gpu + b.Gpu,
	}
}

func (a ResourceList) Sub(b ResourceList) ResourceList {
	return ResourceList{
		Cpu: a.Cpu - b.Cpu,
		Ram: a.Ram - b.Ram,
		Gpu: a.Gpu - b.Gpu,
	}
}

// FitsIn reports whether a is component-wise less than or equal to b.
func (a ResourceList) FitsIn(b ResourceList) bool {
	return a.Cpu <= b.Cpu && a.Ram <= b.Ram && a.Gpu <= b.Gpu
}

func (a ResourceList) IsValid() bool {
	return a.Cpu >= 0 && a.Ram >= 0 && a.Gpu >= 0
}

func (a ResourceList) IsZero() bool {
	return a == ResourceList{}
}

// Utilisation is the scalar weight of the vector.
func (a ResourceList) Utilisation() int64 {
	return a.Cpu + a.Ram + a.Gpu
}

func (a ResourceList) String() string {
	return fmt.Sprintf("cpu=%d ram=%d gpu=%d", a.Cpu, a.Ram, a.Gpu)
}

func Sum(lists []ResourceList) ResourceList {
	total := ResourceList{}
	for _, l := range lists {
		total = total.Add(l)
	}
	return total
}
