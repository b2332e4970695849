package asset

import (
	"context"
	"errors"
	"fmt"
)

// PointRole names what a device point carries.
type PointRole string

const (
	// RoleMeasuredPower is read before each cycle to meter inelastic load.
	RoleMeasuredPower PointRole = "measured_power"
	// RoleSetpoint receives the power scheduled for the interval in delivery.
	RoleSetpoint PointRole = "setpoint"
)

// ErrPointNotConfigured is returned when an asset has no point for a role.
var ErrPointNotConfigured = errors.New("point not configured")

// PointConfig binds a role to a device address.
type PointConfig struct {
	Role    string `json:"role"`
	Address string `json:"address"`
	// Scale converts between market power and device units. Zero means 1.
	Scale float64 `json:"scale"`
}

// PointTable is the validated, static set of points of one asset.
type PointTable map[PointRole]PointConfig

// NewPointTable validates points: roles must be known and unique and every
// point needs an address.
func NewPointTable(points []PointConfig) (PointTable, error) {
	t := make(PointTable, len(points))
	for i, p := range points {
		role := PointRole(p.Role)
		switch role {
		case RoleMeasuredPower, RoleSetpoint:
		default:
			return nil, fmt.Errorf("point %d: unknown role %q", i, p.Role)
		}
		if p.Address == "" {
			return nil, fmt.Errorf("point %s: address is required", p.Role)
		}
		if _, dup := t[role]; dup {
			return nil, fmt.Errorf("point %s: duplicate role", p.Role)
		}
		if p.Scale == 0 {
			p.Scale = 1
		}
		t[role] = p
	}
	return t, nil
}

// Has reports whether role is configured.
func (t PointTable) Has(role PointRole) bool {
	_, ok := t[role]
	return ok
}

// PointIO reads and writes device points.
type PointIO interface {
	GetPoint(ctx context.Context, address string) (float64, error)
	SetPoint(ctx context.Context, address string, value float64) error
}

// Read returns the value of role converted to market power.
func (t PointTable) Read(ctx context.Context, io PointIO, role PointRole) (float64, error) {
	p, ok := t[role]
	if !ok {
		return 0, fmt.Errorf("%s: %w", role, ErrPointNotConfigured)
	}
	v, err := io.GetPoint(ctx, p.Address)
	if err != nil {
		return 0, fmt.Errorf("read %s at %s: %w", role, p.Address, err)
	}
	return v / p.Scale, nil
}

// Write sets role to power converted to device units.
func (t PointTable) Write(ctx context.Context, io PointIO, role PointRole, power float64) error {
	p, ok := t[role]
	if !ok {
		return fmt.Errorf("%s: %w", role, ErrPointNotConfigured)
	}
	if err := io.SetPoint(ctx, p.Address, power*p.Scale); err != nil {
		return fmt.Errorf("write %s at %s: %w", role, p.Address, err)
	}
	return nil
}
