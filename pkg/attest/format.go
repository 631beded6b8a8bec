package attest

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// ErrUnsupportedFormat is returned for records whose version this build cannot read.
var ErrUnsupportedFormat = errors.New("attest: unsupported record format")

// supportedFormats accepts any record with the same major version.
var supportedFormats = mustConstraint("^" + contracts.RecordFormatVersion)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// CheckFormat reports whether a record version can be verified.
func CheckFormat(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedFormat, version, err)
	}
	if !supportedFormats.Check(v) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, v)
	}
	return nil
}
