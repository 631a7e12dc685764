package domain

import (
	"fmt"
	"strings"
	"time"
)

// Capability is one category of external resource a unit needs.
type Capability string

const (
	CapabilityCompute Capability = "COMPUTE"
	CapabilityEmail   Capability = "EMAIL"
	CapabilityPhone   Capability = "PHONE"
	CapabilityProfile Capability = "PROFILE"
)

// Capabilities lists every capability type in acquisition order.
var Capabilities = []Capability{
	CapabilityProfile,
	CapabilityCompute,
	CapabilityEmail,
	CapabilityPhone,
}

func (c Capability) String() string { return string(c) }

func (c Capability) IsValid() bool {
	switch c {
	case CapabilityCompute, CapabilityEmail, CapabilityPhone, CapabilityProfile:
		return true
	}
	return false
}

func ParseCapabilityFromString(s string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid capability %q", ErrValidation, s)
	}
	return c, nil
}

// ResourceHandle identifies one acquired backend resource. The handle is
// exclusively owned by the unit that acquired it until release.
type ResourceHandle struct {
	ID         string
	Capability Capability
	AcquiredAt time.Time
}
