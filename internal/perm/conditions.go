package perm

import "time"

// TimeWindow restricts a grant to an hour-of-day range, in server local time.
// Nil bounds are open.
type TimeWindow struct {
	StartHour *int `json:"start_hour,omitempty"`
	EndHour   *int `json:"end_hour,omitempty"`
}

// Conditions is an optional constraint attached to a grant. Every sub-condition
// present must pass for the grant to apply.
type Conditions struct {
	Time        *TimeWindow `json:"time,omitempty"`
	Locations   []string    `json:"locations,omitempty"`
	AmountLimit *int64      `json:"amount_limit,omitempty"`
}

// Empty reports whether no sub-condition is configured.
func (c *Conditions) Empty() bool {
	return c == nil || (c.Time == nil && len(c.Locations) == 0 && c.AmountLimit == nil)
}

// Evaluate reports whether the grant applies at now, for a user operating at
// location, against res. When the caller supplies no location, the resource's
// own location stands in. An amount-limited grant with no resource fails
// closed: the ceiling cannot be verified without the resource.
func (c *Conditions) Evaluate(now time.Time, location string, res *Resource) bool {
	if c == nil {
		return true
	}
	if c.Time != nil {
		hour := now.Hour()
		if c.Time.StartHour != nil && hour < *c.Time.StartHour {
			return false
		}
		if c.Time.EndHour != nil && hour > *c.Time.EndHour {
			return false
		}
	}
	if len(c.Locations) > 0 {
		if location == "" && res != nil {
			location = res.Location
		}
		allowed := false
		for _, loc := range c.Locations {
			if loc == location {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if c.AmountLimit != nil {
		if res == nil || res.Amount == nil {
			return false
		}
		if *res.Amount > *c.AmountLimit {
			return false
		}
	}
	return true
}
