// Package devices loads the catalog of devices the patcher knows how
// to target. The catalog drives ramdisk transform resolution and the
// device table written into multiboot/info.prop.
package devices

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/errwrap"
	"gopkg.in/yaml.v3"
)

// ArchArmeabiV7a is the architecture assumed when a catalog entry does
// not name one.
const ArchArmeabiV7a = "armeabi-v7a"

// Device describes one supported device.
type Device struct {
	// ID is the canonical device identifier, e.g. "hammerhead".
	ID string `yaml:"id"`
	// Codenames are the build fingerprint names the device ships
	// under, including ID itself.
	Codenames []string `yaml:"codenames"`
	// Name is the human readable marketing name.
	Name string `yaml:"name"`
	// Architecture selects the installer binary variant.
	Architecture string `yaml:"architecture"`
}

// Catalog is an ordered set of devices indexed by ID.
type Catalog struct {
	devices []Device
	byID    map[string]int
}

// Load parses a YAML device catalog.
func Load(data []byte) (*Catalog, error) {
	var devs []Device
	if err := yaml.Unmarshal(data, &devs); err != nil {
		return nil, eMsg(err, "parsing device catalog")
	}

	c := &Catalog{byID: make(map[string]int, len(devs))}
	for _, d := range devs {
		if d.ID == "" {
			return nil, eMsg(errors.New("device entry without an id"), "parsing device catalog")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, eMsg(fmt.Errorf("duplicate device id %q", d.ID), "parsing device catalog")
		}
		if d.Architecture == "" {
			d.Architecture = ArchArmeabiV7a
		}
		if len(d.Codenames) == 0 {
			d.Codenames = []string{d.ID}
		}
		c.byID[d.ID] = len(c.devices)
		c.devices = append(c.devices, d)
	}
	return c, nil
}

// LoadFile parses the YAML device catalog at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eMsg(err, "reading device catalog")
	}
	return Load(data)
}

// Find returns the device with the given ID.
func (c *Catalog) Find(id string) (*Device, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.devices[i], true
}

// All returns the devices in catalog order.
func (c *Catalog) All() []Device {
	return c.devices
}

func eMsg(err error, msg string) error {
	return errwrap.Wrap(errors.New("failed "+msg), err)
}
