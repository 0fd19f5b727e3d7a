package service

import (
	"fmt"
	"strings"

	"tintbook/internal/models"
)

// Catalog maps service ids to how long a technician is busy with them.
type Catalog struct {
	services     map[string]models.Service
	order        []string
	defaultHours float64
}

func NewCatalog(services []models.Service, defaultHours float64) *Catalog {
	c := &Catalog{
		services:     make(map[string]models.Service, len(services)),
		order:        make([]string, 0, len(services)),
		defaultHours: defaultHours,
	}
	for _, s := range services {
		if _, ok := c.services[s.ID]; !ok {
			c.order = append(c.order, s.ID)
		}
		c.services[s.ID] = s
	}
	return c
}

// JobDurationHours sums the durations of the selected services. An empty
// selection costs the default job length.
func (c *Catalog) JobDurationHours(serviceIDs []string) (float64, error) {
	if len(serviceIDs) == 0 {
		return c.defaultHours, nil
	}

	var total float64
	var unknown []string
	for _, id := range serviceIDs {
		s, ok := c.services[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		total += s.DurationHours
	}
	if len(unknown) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownService, strings.Join(unknown, ", "))
	}
	return total, nil
}

func (c *Catalog) Services() []models.Service {
	out := make([]models.Service, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.services[id])
	}
	return out
}

func (c *Catalog) Service(id string) (models.Service, bool) {
	s, ok := c.services[id]
	return s, ok
}
