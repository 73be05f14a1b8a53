package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Device name constants.
const (
	// DeviceHost is the goroutine-based host device.
	DeviceHost = "host"

	// DeviceWGPU is the Vulkan compute device (gogpu/wgpu).
	DeviceWGPU = "wgpu"

	// DeviceAuto selects the best available device.
	DeviceAuto = "auto"
)

// Config carries settings shared by every registered device.
type Config struct {
	// MaxMemoryMB bounds live device buffers in megabytes. Zero keeps the
	// device default: unbounded on the host, DefaultMaxMemoryMB on GPUs.
	MaxMemoryMB int
}

// DeviceFactory creates a new, uninitialized device instance.
type DeviceFactory func(Config) Device

// registry holds registered devices.
var (
	registryMu sync.RWMutex
	devices    = make(map[string]DeviceFactory)
	// Priority order for SelectBest (first device that initializes wins).
	devicePriority = []string{DeviceWGPU, DeviceHost}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions.
// If a device with the same name is already registered, it is replaced.
func Register(name string, factory DeviceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	devices[name] = factory
}

// Unregister removes a device from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(devices, name)
}

// Available returns the sorted names of registered devices.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a device with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := devices[name]
	return ok
}

// Get returns a new uninitialized device by name with the default Config,
// or nil if the name is not registered.
func Get(name string) Device {
	return GetWith(name, Config{})
}

// GetWith is Get with an explicit Config.
func GetWith(name string, cfg Config) Device {
	registryMu.RLock()
	factory, ok := devices[name]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory(cfg)
}

// Select returns the named device, initialized with the default Config.
// DeviceAuto and the empty name defer to SelectBest.
func Select(name string) (Device, error) {
	return SelectWith(name, Config{})
}

// SelectWith is Select with an explicit Config.
func SelectWith(name string, cfg Config) (Device, error) {
	if name == "" || name == DeviceAuto {
		return selectBest(cfg)
	}
	d := GetWith(name, cfg)
	if d == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	if err := d.Init(); err != nil {
		return nil, err
	}
	slogger().Info("compute device selected", "device", d.Name(), "detail", d.Info().Detail)
	return d, nil
}

// SelectBest initializes devices in priority order and returns the first
// that succeeds. A device failing with an AllocationError is skipped with a
// warning; any other error is returned if no later device initializes.
func SelectBest() (Device, error) {
	return selectBest(Config{})
}

func selectBest(cfg Config) (Device, error) {
	registryMu.RLock()
	order := make([]string, 0, len(devices))
	for _, name := range devicePriority {
		if _, ok := devices[name]; ok {
			order = append(order, name)
		}
	}
	for name := range devices {
		if !contains(devicePriority, name) {
			order = append(order, name)
		}
	}
	registryMu.RUnlock()

	var errs []error
	for _, name := range order {
		d := GetWith(name, cfg)
		if d == nil {
			continue
		}
		err := d.Init()
		if err == nil {
			slogger().Info("compute device selected", "device", d.Name(), "detail", d.Info().Detail)
			return d, nil
		}
		if IsAllocation(err) {
			slogger().Warn("compute device unavailable, falling back", "device", name, "err", err)
		} else {
			slogger().Warn("compute device failed to initialize", "device", name, "err", err)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrBackendNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
