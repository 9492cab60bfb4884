// Package registry defines the set of sensors the server accepts.
//
// The registry is built once at startup, validated, and never mutated
// afterwards. Every other component consumes it read-only: the store derives
// its column set from it, the ingestion handler uses it to recognize
// submitted fields, and the exports emit columns in registry order.
package registry

import (
	"fmt"
	"regexp"

	"github.com/xtxerr/sensorlog/internal/errors"
)

// Sensor describes one loggable quantity.
//
// Field doubles as the wire key accepted by /log and as the database column
// name, so it must be a safe SQL identifier.
type Sensor struct {
	Field string `yaml:"field" json:"field"`
	Name  string `yaml:"name" json:"name"`
	Unit  string `yaml:"unit" json:"unit"`
}

// Registry is the ordered, immutable list of configured sensors.
type Registry struct {
	sensors []Sensor
	byField map[string]int
}

// validFieldPattern matches safe column identifiers: lowercase letter first,
// then lowercase letters, digits, and underscores.
var validFieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedColumns are table columns that can never be sensor fields.
var reservedColumns = map[string]bool{
	"id":        true,
	"timestamp": true,
}

// New builds a Registry from the given sensor list.
//
// Validation is fail-fast: an invalid or duplicate field name is a
// configuration error and the process should not serve traffic.
func New(sensors []Sensor) (*Registry, error) {
	if len(sensors) == 0 {
		return nil, fmt.Errorf("at least one sensor required: %w", errors.ErrInvalidConfig)
	}

	byField := make(map[string]int, len(sensors))
	for i, s := range sensors {
		if !validFieldPattern.MatchString(s.Field) {
			return nil, fmt.Errorf("sensor field %q must start with a letter and contain only lowercase letters, numbers, and underscores: %w",
				s.Field, errors.ErrInvalidFieldName)
		}
		if reservedColumns[s.Field] {
			return nil, fmt.Errorf("sensor field %q is a reserved column name: %w",
				s.Field, errors.ErrInvalidFieldName)
		}
		if _, dup := byField[s.Field]; dup {
			return nil, fmt.Errorf("sensor field %q: %w", s.Field, errors.ErrDuplicateField)
		}
		byField[s.Field] = i
	}

	cp := make([]Sensor, len(sensors))
	copy(cp, sensors)

	return &Registry{sensors: cp, byField: byField}, nil
}

// Default returns the built-in sensor set.
func Default() *Registry {
	r, err := New([]Sensor{
		// Outside
		{Field: "outside_temp", Name: "Outside Temperature", Unit: "°C"},
		{Field: "outside_humidity", Name: "Outside Humidity", Unit: "%"},
		// Master bedroom
		{Field: "master_bedroom_temp", Name: "Master Bedroom Temperature", Unit: "°C"},
		{Field: "master_bedroom_humidity", Name: "Master Bedroom Humidity", Unit: "%"},
		// Library
		{Field: "library_temp", Name: "Library Temperature", Unit: "°C"},
		{Field: "library_humidity", Name: "Library Humidity", Unit: "%"},
		// Kitchen
		{Field: "kitchen_temp", Name: "Kitchen Temperature", Unit: "°C"},
		{Field: "kitchen_humidity", Name: "Kitchen Humidity", Unit: "%"},
		// Living room
		{Field: "living_room_temp", Name: "Living Room Temperature", Unit: "°C"},
		{Field: "living_room_humidity", Name: "Living Room Humidity", Unit: "%"},
		// Other
		{Field: "co2_level", Name: "CO2 Level", Unit: "ppm"},
	})
	if err != nil {
		// The built-in list is validated by tests; this cannot happen.
		panic(err)
	}
	return r
}

// Sensors returns the sensors in registry order.
// The returned slice must not be modified.
func (r *Registry) Sensors() []Sensor {
	return r.sensors
}

// Fields returns the field names in registry order.
func (r *Registry) Fields() []string {
	fields := make([]string, len(r.sensors))
	for i, s := range r.sensors {
		fields[i] = s.Field
	}
	return fields
}

// Lookup returns the sensor for a wire field name.
func (r *Registry) Lookup(field string) (Sensor, bool) {
	i, ok := r.byField[field]
	if !ok {
		return Sensor{}, false
	}
	return r.sensors[i], true
}

// Has reports whether field is a registered sensor field.
func (r *Registry) Has(field string) bool {
	_, ok := r.byField[field]
	return ok
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	return len(r.sensors)
}
