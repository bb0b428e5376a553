package aggregate

import "time"

// StockKey identifies a stocked item.
type StockKey struct {
	EntityID  string
	VariantID string
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.EntityID
	}
	return k.EntityID + "/" + k.VariantID
}

// StockLevel is an observed stock reading. A nil Threshold falls back to the
// last threshold seen for the key, then to the default.
type StockLevel struct {
	Key       StockKey
	Name      string
	Stock     int64
	Threshold *int64
	At        time.Time
}

// StockAlert is a key at or below its threshold.
type StockAlert struct {
	Key       StockKey
	Name      string
	Stock     int64
	Threshold int64
	Since     time.Time
	UpdatedAt time.Time
}

// Change is the effect of applying a StockLevel.
type Change uint8

// Stock alert changes.
const (
	Unchanged Change = iota
	Inserted
	Updated
	Removed
)

func (c Change) String() string {
	switch c {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unchanged"
	}
}

// StockAlerts holds the set of keys whose stock is at or below threshold.
// A key is present at most once.
type StockAlerts struct {
	defaultThreshold int64
	thresholds       map[StockKey]int64
	alerts           map[StockKey]*StockAlert
	order            []StockKey
}

// NewStockAlerts creates an empty set using defaultThreshold for keys that
// never reported one.
func NewStockAlerts(defaultThreshold int64) *StockAlerts {
	return &StockAlerts{
		defaultThreshold: defaultThreshold,
		thresholds:       make(map[StockKey]int64),
		alerts:           make(map[StockKey]*StockAlert),
	}
}

// Apply recomputes whether l.Key belongs in the set.
func (s *StockAlerts) Apply(l StockLevel) Change {
	threshold := s.thresholdFor(l)
	stock := max(l.Stock, 0)
	low := stock <= threshold
	cur, present := s.alerts[l.Key]

	switch {
	case low && !present:
		s.alerts[l.Key] = &StockAlert{
			Key:       l.Key,
			Name:      l.Name,
			Stock:     stock,
			Threshold: threshold,
			Since:     l.At,
			UpdatedAt: l.At,
		}
		s.order = append(s.order, l.Key)
		return Inserted
	case low && present:
		if cur.Stock == stock && cur.Threshold == threshold && (l.Name == "" || l.Name == cur.Name) {
			return Unchanged
		}
		cur.Stock = stock
		cur.Threshold = threshold
		if l.Name != "" {
			cur.Name = l.Name
		}
		cur.UpdatedAt = l.At
		return Updated
	case !low && present:
		s.Remove(l.Key)
		return Removed
	default:
		return Unchanged
	}
}

func (s *StockAlerts) thresholdFor(l StockLevel) int64 {
	if l.Threshold != nil {
		s.thresholds[l.Key] = *l.Threshold
		return *l.Threshold
	}
	if t, ok := s.thresholds[l.Key]; ok {
		return t
	}
	return s.defaultThreshold
}

// Remove deletes key from the set and reports whether it was present.
func (s *StockAlerts) Remove(key StockKey) bool {
	if _, ok := s.alerts[key]; !ok {
		return false
	}
	delete(s.alerts, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Forget removes key and its remembered threshold, as for a deleted product.
func (s *StockAlerts) Forget(key StockKey) bool {
	delete(s.thresholds, key)
	return s.Remove(key)
}

// Has reports whether key is in the set.
func (s *StockAlerts) Has(key StockKey) bool {
	_, ok := s.alerts[key]
	return ok
}

// Get returns the alert for key.
func (s *StockAlerts) Get(key StockKey) (StockAlert, bool) {
	a, ok := s.alerts[key]
	if !ok {
		return StockAlert{}, false
	}
	return *a, true
}

// List returns the alerts in insertion order.
func (s *StockAlerts) List() []StockAlert {
	out := make([]StockAlert, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.alerts[k])
	}
	return out
}

// Len returns the number of alerts.
func (s *StockAlerts) Len() int { return len(s.alerts) }
