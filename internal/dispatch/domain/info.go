package dispatch

import (
	"strconv"
	"strings"
)

// Info carries the device self-description reported in the INFO field of a
// poll heartbeat: a comma-separated list in fixed positional order. Devices
// of different generations report different suffix lengths, so trailing
// fields are optional.
type Info struct {
	FirmwareVersion  string `json:"firmware_version"`
	UserCount        int    `json:"user_count"`
	FingerprintCount int    `json:"fingerprint_count"`
	RecordCount      int    `json:"record_count"`
	IPAddress        string `json:"ip_address,omitempty"`
	FPAlgorithm      string `json:"fp_algorithm,omitempty"`
	FaceAlgorithm    string `json:"face_algorithm,omitempty"`
	FaceCount        int    `json:"face_count,omitempty"`
}

// ParseInfo parses a raw INFO heartbeat string. An empty string yields nil;
// a partially populated string yields whatever fields are present. The
// parser never fails: liveness reporting must not depend on firmware quirks.
func ParseInfo(raw string) *Info {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	info := &Info{FirmwareVersion: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		info.UserCount = atoiLenient(parts[1])
	}
	if len(parts) > 2 {
		info.FingerprintCount = atoiLenient(parts[2])
	}
	if len(parts) > 3 {
		info.RecordCount = atoiLenient(parts[3])
	}
	if len(parts) > 4 {
		info.IPAddress = strings.TrimSpace(parts[4])
	}
	if len(parts) > 5 {
		info.FPAlgorithm = strings.TrimSpace(parts[5])
	}
	if len(parts) > 6 {
		info.FaceAlgorithm = strings.TrimSpace(parts[6])
	}
	if len(parts) > 7 {
		info.FaceCount = atoiLenient(parts[7])
	}
	return info
}

func atoiLenient(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}
