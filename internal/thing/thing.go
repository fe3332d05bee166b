package thing

import (
	"errors"
	"time"

	"github.com/nerrad567/thingbridge/internal/infrastructure/config"
)

// ErrThingNotFound is returned when a thing ID is not in the registry.
var ErrThingNotFound = errors.New("thing: not found")

// Thing is a registered device as persisted in the registry.
type Thing struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Transport string    `json:"transport"`
	Address   string    `json:"address,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromConfig builds the registry entry for a configured thing.
func FromConfig(cfg config.ThingConfig) Thing {
	return Thing{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Transport: cfg.Transport,
		Address:   cfg.Address,
		Enabled:   cfg.IsEnabled(),
	}
}
