package network

import (
	"errors"
	"fmt"
	"slices"
)

// Layer names a protocol layer in version errors
type Layer string

const (
	ControlLayer Layer = "control"
	MessageLayer Layer = "message"
)

// VersionCompatibilityError reports that two peers share no version of a layer
type VersionCompatibilityError struct {
	Layer         Layer
	MyVersions    []int
	TheirVersions []int
}

func (e *VersionCompatibilityError) Error() string {
	return fmt.Sprintf("version incompatibility on %s layer: my versions=%v, their versions=%v",
		e.Layer, e.MyVersions, e.TheirVersions)
}

func (e *VersionCompatibilityError) Is(target error) bool {
	return target == ErrNoCommonVersion
}

// NegotiateVersion returns the highest version present in both lists
func NegotiateVersion(layer Layer, myVersions, theirVersions []int) (int, error) {
	if len(myVersions) == 0 || len(theirVersions) == 0 {
		return 0, errors.New("version list cannot be empty")
	}

	best, found := 0, false
	for _, v := range myVersions {
		if slices.Contains(theirVersions, v) && (!found || v > best) {
			best, found = v, true
		}
	}
	if !found {
		return 0, &VersionCompatibilityError{
			Layer:         layer,
			MyVersions:    myVersions,
			TheirVersions: theirVersions,
		}
	}
	return best, nil
}

// IsVersionSupported reports whether version is in the supported list of layer
func IsVersionSupported(layer Layer, version int) bool {
	switch layer {
	case ControlLayer:
		return slices.Contains(DefaultControlLayerVersions(), version)
	case MessageLayer:
		return slices.Contains(DefaultMessageLayerVersions(), version)
	}
	return false
}
