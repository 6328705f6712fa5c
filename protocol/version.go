package protocol

import (
	"slices"
	"strconv"
)

// Version is the negotiated protocol number sent by the client in its
// handshake. Versions are totally ordered by their wire number.
type Version int32

const (
	VersionUnknown Version = -1

	V1_7_2  Version = 4
	V1_7_6  Version = 5
	V1_8    Version = 47
	V1_9    Version = 107
	V1_9_1  Version = 108
	V1_9_2  Version = 109
	V1_9_4  Version = 110
	V1_10   Version = 210
	V1_11   Version = 315
	V1_11_1 Version = 316
	V1_12   Version = 335
	V1_12_1 Version = 338
	V1_12_2 Version = 340
	V1_13   Version = 393
	V1_13_1 Version = 401
	V1_13_2 Version = 404
	V1_14   Version = 477
	V1_14_1 Version = 480
	V1_14_2 Version = 485
	V1_14_3 Version = 490
	V1_14_4 Version = 498
	V1_15   Version = 573
	V1_15_1 Version = 575
	V1_15_2 Version = 578

	Oldest = V1_7_2
	Latest = V1_15_2
)

var versionNames = map[Version]string{
	V1_7_2:  "1.7.2",
	V1_7_6:  "1.7.6",
	V1_8:    "1.8",
	V1_9:    "1.9",
	V1_9_1:  "1.9.1",
	V1_9_2:  "1.9.2",
	V1_9_4:  "1.9.4",
	V1_10:   "1.10",
	V1_11:   "1.11",
	V1_11_1: "1.11.1",
	V1_12:   "1.12",
	V1_12_1: "1.12.1",
	V1_12_2: "1.12.2",
	V1_13:   "1.13",
	V1_13_1: "1.13.1",
	V1_13_2: "1.13.2",
	V1_14:   "1.14",
	V1_14_1: "1.14.1",
	V1_14_2: "1.14.2",
	V1_14_3: "1.14.3",
	V1_14_4: "1.14.4",
	V1_15:   "1.15",
	V1_15_1: "1.15.1",
	V1_15_2: "1.15.2",
}

// Supported reports whether v is one of the named protocol revisions.
func (v Version) Supported() bool {
	_, ok := versionNames[v]
	return ok
}

// Less reports whether v is strictly older than other.
func (v Version) Less(other Version) bool { return v < other }

// AtLeast reports whether v is other or newer.
func (v Version) AtLeast(other Version) bool { return v >= other }

// Between reports whether v lies in the inclusive range [from, to].
func (v Version) Between(from, to Version) bool { return v >= from && v <= to }

func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(v)) + ")"
}

// SupportedVersions lists every supported revision, oldest first.
func SupportedVersions() []Version {
	out := make([]Version, 0, len(versionNames))
	for v := range versionNames {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
