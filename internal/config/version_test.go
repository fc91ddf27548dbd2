package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version int
		wantErr bool
		newer   bool
		message string
	}{
		{version: CurrentVersion},
		{version: 0, wantErr: true, message: "invalid"},
		{version: -3, wantErr: true, message: "invalid"},
		{version: CurrentVersion + 1, wantErr: true, newer: true, message: "upgrade nexushub"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if !tt.wantErr {
			if err != nil {
				t.Errorf("ValidateVersion(%d) error = %v", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Errorf("ValidateVersion(%d) = %v, want *VersionError", tt.version, err)
			continue
		}
		if ve.Newer != tt.newer || !strings.Contains(ve.Error(), tt.message) {
			t.Errorf("ValidateVersion(%d) = %+v %q", tt.version, ve, ve.Error())
		}
	}

	var nilErr *VersionError
	if nilErr.Error() != "" {
		t.Error("nil VersionError should render empty")
	}
}
