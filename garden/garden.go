/*
Package garden holds the domain of the gardening backend: the declaration of its
tables, the entry hooks which keep device data canonical, and the distributor which
sends pending email notifications.
*/
package garden

import (
	"context"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/relabs-tech/gardenbase/core/backend"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/registry"
)

//go:embed tables.yaml
var tablesYAML []byte

// Table names
const (
	TableUser          = "user"
	TableZone          = "zone"
	TableDevice        = "device"
	TableSensorReading = "sensorReading"
	TableNotification  = "notification"
)

// Registry returns a new registry with the tables of the gardening backend
func Registry() *registry.Registry {
	return registry.MustLoad(tablesYAML)
}

// TablesYAML returns the embedded table declarations
func TablesYAML() []byte {
	return tablesYAML
}

// Install installs the entry hooks of the gardening domain into the backend
func Install(b *backend.Backend) {
	b.HandleEntry(TableDevice, normalizeDevice)
}

// normalizeDevice rewrites the MAC address of a device entry into canonical form.
// Partial updates without a MAC address pass unchanged.
func normalizeDevice(ctx context.Context, table string, entry gateway.Entry) error {
	value, ok := entry["macAddress"]
	if !ok || value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return &gateway.InvalidValueError{Column: "macAddress", Reason: fmt.Sprintf("cannot use %T as mac address", value)}
	}
	mac, err := NormalizeMAC(s)
	if err != nil {
		return &gateway.InvalidValueError{Column: "macAddress", Reason: err.Error()}
	}
	entry["macAddress"] = mac
	return nil
}

// NormalizeMAC returns the 48 bit MAC address in s as upper case, colon separated
// hex pairs. It accepts the notations of net.ParseMAC and twelve plain hex digits.
func NormalizeMAC(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 12 {
		if _, err := hex.DecodeString(s); err == nil {
			pairs := make([]string, 6)
			for i := range pairs {
				pairs[i] = s[2*i : 2*i+2]
			}
			s = strings.Join(pairs, ":")
		}
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", fmt.Errorf("'%s' is not a mac address", s)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("'%s' is not a 48 bit mac address", s)
	}
	return strings.ToUpper(hw.String()), nil
}
