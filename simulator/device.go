package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrReadOnly is returned when a command targets a point that cannot be
// written.
var ErrReadOnly = errors.New("point is read only")

// Device is a simulated piece of equipment exposing addressable points.
type Device interface {
	// Writable lists the addresses accepting set commands.
	Writable() []string
	Set(address string, value float64) error
	// Step advances the device by dt and returns its readings by address.
	Step(now time.Time, dt time.Duration) map[string]float64
}

// DeviceConfig describes one simulated device of the devices file.
type DeviceConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Battery parameters.
	CapacityKWh     float64 `json:"capacity_kwh"`
	InitialSoc      float64 `json:"initial_soc"`
	ChargeRateKW    float64 `json:"charge_rate_kw"`
	DischargeRateKW float64 `json:"discharge_rate_kw"`
	// Profile maps hours "0".."23" to the consumed power of a load.
	Profile map[string]float64 `json:"profile"`
}

// LoadDevices builds devices from a JSON list of DeviceConfig.
func LoadDevices(data []byte) ([]Device, error) {
	var cfgs []DeviceConfig
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(cfgs))
	for _, c := range cfgs {
		if c.Name == "" {
			return nil, errors.New("device name is required")
		}
		switch c.Kind {
		case "battery":
			out = append(out, &StorageDevice{Name: c.Name, Battery: &Battery{
				CapacityKWh: c.CapacityKWh, Soc: c.InitialSoc,
				ChargeRateKW: c.ChargeRateKW, DischargeRateKW: c.DischargeRateKW,
			}})
		case "load":
			prof, err := HourlyProfile(c.Profile)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", c.Name, err)
			}
			out = append(out, &LoadDevice{Name: c.Name, Profile: prof})
		default:
			return nil, fmt.Errorf("device %s: unknown kind %q", c.Name, c.Kind)
		}
	}
	return out, nil
}

// HourlyProfile converts an hour-keyed map into 24 values. Missing hours are
// zero.
func HourlyProfile(m map[string]float64) ([24]float64, error) {
	var prof [24]float64
	for h, v := range m {
		hour, err := strconv.Atoi(h)
		if err != nil || hour < 0 || hour > 23 {
			return prof, fmt.Errorf("invalid hour %q", h)
		}
		prof[hour] = v
	}
	return prof, nil
}

// StorageDevice follows the setpoint written to <name>/setpoint and reports
// <name>/power and <name>/soc.
type StorageDevice struct {
	Name    string
	Battery *Battery

	mu       sync.Mutex
	setpoint float64
}

func (d *StorageDevice) Writable() []string { return []string{d.Name + "/setpoint"} }

func (d *StorageDevice) Set(address string, value float64) error {
	if address != d.Name+"/setpoint" {
		return fmt.Errorf("%s: %w", address, ErrReadOnly)
	}
	d.mu.Lock()
	d.setpoint = value
	d.mu.Unlock()
	return nil
}

func (d *StorageDevice) Step(_ time.Time, dt time.Duration) map[string]float64 {
	d.mu.Lock()
	sp := d.setpoint
	d.mu.Unlock()
	actual := d.Battery.ApplyPower(sp, dt)
	return map[string]float64{
		d.Name + "/power": actual,
		d.Name + "/soc":   d.Battery.StateOfCharge(),
	}
}

// LoadDevice reports the negative power of an hourly consumption profile at
// <name>/power.
type LoadDevice struct {
	Name    string
	Profile [24]float64
}

func (d *LoadDevice) Writable() []string { return nil }

func (d *LoadDevice) Set(address string, _ float64) error {
	return fmt.Errorf("%s: %w", address, ErrReadOnly)
}

func (d *LoadDevice) Step(now time.Time, _ time.Duration) map[string]float64 {
	return map[string]float64{d.Name + "/power": -d.Profile[now.Hour()]}
}
