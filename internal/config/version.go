package config

import "fmt"

// CurrentVersion is the configuration format this build reads. A file that
// omits version is treated as current.
const CurrentVersion = 1

// VersionError reports a version this build cannot read.
type VersionError struct {
	Version int
	// Newer is set when the file was written for a later release.
	Newer bool
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Newer {
		return fmt.Sprintf("config version %d is newer than this build supports (%d); upgrade nexushub", e.Version, CurrentVersion)
	}
	return fmt.Sprintf("config version %d is invalid; expected 1..%d", e.Version, CurrentVersion)
}

// ValidateVersion accepts 1 through CurrentVersion.
func ValidateVersion(version int) error {
	switch {
	case version <= 0:
		return &VersionError{Version: version}
	case version > CurrentVersion:
		return &VersionError{Version: version, Newer: true}
	}
	return nil
}
