package memory

// A Space tags where an allocation lives.
type Space int

const (
	Host       Space = iota // Pageable host memory
	HostPinned              // Page-locked host memory visible to the device
	Device                  // Device-resident memory
	Managed                 // Memory migrated on demand between host and device
)

var spaceNames = map[Space]string{
	Host:       "host",
	HostPinned: "pinned",
	Device:     "device",
	Managed:    "managed",
}

func (s Space) String() string {
	str, ok := spaceNames[s]
	if !ok {
		return "unknown Space"
	}
	return str
}

// DeviceAccessible reports whether kernels running on the device may read or
// write memory in this space directly.
func (s Space) DeviceAccessible() bool {
	return s != Host
}

// ParseSpace maps a space name back to its Space.
func ParseSpace(name string) (Space, bool) {
	for s, n := range spaceNames {
		if n == name {
			return s, true
		}
	}
	return Host, false
}
