package inventory

// HostIdentity identifies the scanned machine
type HostIdentity struct {
	OSName    string `json:"os" yaml:"os"`
	OSVersion string `json:"os_version" yaml:"os_version"`
	Hostname  string `json:"hostname" yaml:"hostname"`
	PrimaryIP string `json:"ip_address" yaml:"ip_address"`
}

// NetworkInterface is one IPv4 address bound to an interface.
// MAC is empty when the interface has no link-layer address.
type NetworkInterface struct {
	Name string `json:"interface" yaml:"interface"`
	IPv4 string `json:"ip_address" yaml:"ip_address"`
	MAC  string `json:"mac_address,omitempty" yaml:"mac_address,omitempty"`
}

// Process is a running process
type Process struct {
	PID  int32  `json:"pid" yaml:"pid"`
	Name string `json:"name" yaml:"name"`
	User string `json:"username,omitempty" yaml:"username,omitempty"`
}

// Filesystem is a mounted partition and its usage
type Filesystem struct {
	Device      string  `json:"device" yaml:"device"`
	Mountpoint  string  `json:"mountpoint" yaml:"mountpoint"`
	FSType      string  `json:"fstype" yaml:"fstype"`
	Total       uint64  `json:"total" yaml:"total"`
	Used        uint64  `json:"used" yaml:"used"`
	Free        uint64  `json:"free" yaml:"free"`
	UsedPercent float64 `json:"percent" yaml:"percent"`
}

// Resources is the host's processor and memory capacity and load at
// scan time. Zero values mean the figure could not be read.
type Resources struct {
	CPUModel          string  `json:"cpu_model,omitempty" yaml:"cpu_model,omitempty"`
	CPUCores          int     `json:"cpu_cores" yaml:"cpu_cores"`
	CPUUsagePercent   float64 `json:"cpu_usage_percent" yaml:"cpu_usage_percent"`
	MemoryTotal       uint64  `json:"memory_total" yaml:"memory_total"`
	MemoryUsed        uint64  `json:"memory_used" yaml:"memory_used"`
	MemoryUsedPercent float64 `json:"memory_used_percent" yaml:"memory_used_percent"`
}

// Snapshot is everything the collector gathered in one pass.
// Each slice is non-nil; a category that failed is empty.
type Snapshot struct {
	Identity    HostIdentity       `json:"system" yaml:"system"`
	Interfaces  []NetworkInterface `json:"network" yaml:"network"`
	Processes   []Process          `json:"processes" yaml:"processes"`
	Filesystems []Filesystem       `json:"filesystems" yaml:"filesystems"`
	Resources   Resources          `json:"resources" yaml:"resources"`
}
