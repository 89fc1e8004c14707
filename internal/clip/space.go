package clip

import (
	"github.com/shirou/gopsutil/v4/disk"
)

// SpaceProbe reports filesystem usage for a path.
type SpaceProbe interface {
	Usage(path string) (*disk.UsageStat, error)
}

// DiskSpace is the gopsutil-backed SpaceProbe.
type DiskSpace struct{}

func (DiskSpace) Usage(path string) (*disk.UsageStat, error) {
	return disk.Usage(path)
}
