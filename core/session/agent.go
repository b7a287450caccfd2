package session

import (
	"fmt"

	"github.com/avct/uasurfer"
)

// AgentInfo is the parsed user agent of the quiz tab.
type AgentInfo struct {
	Device  string `json:"device"`
	OS      string `json:"os"`
	Browser string `json:"browser"`
}

func (a AgentInfo) String() string {
	return fmt.Sprintf("%s on %s (%s)", a.Browser, a.OS, a.Device)
}

// ParseUserAgent describes the device a session runs on.
func ParseUserAgent(ua string) AgentInfo {
	parsed := uasurfer.Parse(ua)

	device := "Unknown"
	switch parsed.DeviceType {
	case uasurfer.DeviceComputer:
		device = "Computer"
	case uasurfer.DeviceTablet:
		device = "Tablet"
	case uasurfer.DevicePhone:
		device = "Phone"
	case uasurfer.DeviceConsole:
		device = "Console"
	case uasurfer.DeviceWearable:
		device = "Wearable"
	case uasurfer.DeviceTV:
		device = "TV"
	}

	return AgentInfo{
		Device: device,
		OS: fmt.Sprintf("%s %d.%d",
			parsed.OS.Name.StringTrimPrefix(), parsed.OS.Version.Major, parsed.OS.Version.Minor),
		Browser: fmt.Sprintf("%s %d.%d",
			parsed.Browser.Name.StringTrimPrefix(), parsed.Browser.Version.Major, parsed.Browser.Version.Minor),
	}
}
