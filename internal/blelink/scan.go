package blelink

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Found is a DFU-capable device seen during a scan.
type Found struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int    `json:"rssi"`
	Match   string `json:"match"`
}

// catalog deduplicates scan results by address, keeping the strongest
// signal and the last non-empty name.
type catalog struct {
	mu      sync.Mutex
	entries map[string]Found
}

func (c *catalog) add(f Found) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]Found)
	}
	prev, ok := c.entries[f.Address]
	if ok {
		if f.Name == "" {
			f.Name = prev.Name
		}
		if prev.RSSI > f.RSSI {
			f.RSSI = prev.RSSI
		}
	}
	c.entries[f.Address] = f
}

// list returns the entries strongest first, then by address.
func (c *catalog) list() []Found {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Found, 0, len(c.entries))
	for _, f := range c.entries {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// ScanDFU lists DFU-capable devices advertising until ctx ends.
func (l *Link) ScanDFU(ctx context.Context) ([]Found, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()

	var seen catalog
	err := l.scan(ctx, func(r bluetooth.ScanResult) bool {
		match := classify(r.AdvertisementPayload)
		if match == "" {
			return false
		}
		seen.add(Found{
			Address: r.Address.String(),
			Name:    r.LocalName(),
			RSSI:    int(r.RSSI),
			Match:   match,
		})
		l.logger.Debug("dfu device", "address", r.Address.String(), "rssi", r.RSSI, "match", match)
		return false
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return seen.list(), err
	}
	return seen.list(), nil
}
