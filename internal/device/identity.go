package device

import (
	"errors"
	"fmt"
	"strings"
)

// Role tags the firmware mode a logical identity is advertised in.
type Role string

const (
	RoleApplication Role = "application"
	RoleBootloader  Role = "bootloader"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleApplication || r == RoleBootloader
}

// Identity is the logical address of a peripheral in one firmware mode.
// The same physical device advertises under a different Identity once it
// restarts into its bootloader.
type Identity struct {
	Address string `json:"address" yaml:"address"`
	Role    Role   `json:"role" yaml:"role"`
}

// NewIdentity returns an Identity with a normalised address.
func NewIdentity(address string, role Role) Identity {
	return Identity{Address: NormalizeAddress(address), Role: role}
}

// Application is shorthand for NewIdentity(address, RoleApplication).
func Application(address string) Identity {
	return NewIdentity(address, RoleApplication)
}

// Bootloader is shorthand for NewIdentity(address, RoleBootloader).
func Bootloader(address string) Identity {
	return NewIdentity(address, RoleBootloader)
}

func (id Identity) String() string {
	return fmt.Sprintf("%s(%s)", id.Role, id.Address)
}

// NormalizeAddress trims whitespace and upper-cases an address so that
// "c8:4f:2a:10:00:01" and "C8:4F:2A:10:00:01 " compare equal. Non-MAC
// addresses (platform UUIDs on macOS) are normalised the same way.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Pairing ties an application identity to the bootloader identity the same
// device uses in update mode. It is supplied by configuration and never
// derived at runtime.
type Pairing struct {
	Application Identity `json:"application"`
	Bootloader  Identity `json:"bootloader"`
}

// NewPairing builds a Pairing from two raw addresses.
func NewPairing(applicationAddr, bootloaderAddr string) Pairing {
	return Pairing{
		Application: Application(applicationAddr),
		Bootloader:  Bootloader(bootloaderAddr),
	}
}

// ErrInvalidPairing is wrapped by every error returned from Pairing.Validate.
var ErrInvalidPairing = errors.New("invalid pairing")

// Validate checks roles and addresses.
func (p Pairing) Validate() error {
	if p.Application.Address == "" {
		return fmt.Errorf("%w: application address is required", ErrInvalidPairing)
	}
	if p.Bootloader.Address == "" {
		return fmt.Errorf("%w: bootloader address is required", ErrInvalidPairing)
	}
	if p.Application.Role != RoleApplication {
		return fmt.Errorf("%w: application identity has role %q", ErrInvalidPairing, p.Application.Role)
	}
	if p.Bootloader.Role != RoleBootloader {
		return fmt.Errorf("%w: bootloader identity has role %q", ErrInvalidPairing, p.Bootloader.Role)
	}
	if p.Application.Address == p.Bootloader.Address {
		return fmt.Errorf("%w: application and bootloader share address %s", ErrInvalidPairing, p.Application.Address)
	}
	return nil
}

func (p Pairing) String() string {
	return p.Application.Address + "->" + p.Bootloader.Address
}
