// Package geoip resolves IP addresses to a coarse location using a sorted
// table of non-overlapping address ranges.
package geoip

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/netip"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

const unknown = "Unknown"

// Location is the result of a lookup
type Location struct {
	CountryCode string `json:"country_code"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Found       bool   `json:"found"`
}

// NotFound is returned for addresses outside every range and for unparsable input
var NotFound = Location{CountryCode: unknown, Country: unknown, Region: unknown, City: unknown}

// Range is one row of the dataset. Start and End are inclusive.
type Range struct {
	Start    uint128
	End      uint128
	Location Location
}

// uint128 holds an address as an integer: IPv4 in the low 32 bits, IPv6 in all 128
type uint128 struct {
	hi, lo uint64
}

func (a uint128) cmp(b uint128) int {
	switch {
	case a.hi < b.hi:
		return -1
	case a.hi > b.hi:
		return 1
	case a.lo < b.lo:
		return -1
	case a.lo > b.lo:
		return 1
	}
	return 0
}

func addrToUint128(addr netip.Addr) uint128 {
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return uint128{lo: uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])}
	}
	b := addr.As16()
	var v uint128
	for i := 0; i < 8; i++ {
		v.hi = v.hi<<8 | uint64(b[i])
		v.lo = v.lo<<8 | uint64(b[i+8])
	}
	return v
}

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

func parseUint128(s string) (uint128, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return uint128{}, fmt.Errorf("invalid address integer %q", s)
	}
	lo := new(big.Int).And(n, maxUint64).Uint64()
	hi := new(big.Int).Rsh(n, 64).Uint64()
	return uint128{hi: hi, lo: lo}, nil
}

// Parse reads CSV rows of start,end,country_code,country,region,city.
// Rows that are short or whose bounds are not integers are skipped.
func Parse(r io.Reader) ([]Range, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	var ranges []Range
	skipped := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("read ip dataset: %w", err)
		}
		if len(row) < 6 {
			skipped++
			continue
		}
		start, err := parseUint128(row[0])
		if err != nil {
			skipped++
			continue
		}
		end, err := parseUint128(row[1])
		if err != nil || end.cmp(start) < 0 {
			skipped++
			continue
		}
		ranges = append(ranges, Range{
			Start: start,
			End:   end,
			Location: Location{
				CountryCode: row[2],
				Country:     row[3],
				Region:      row[4],
				City:        row[5],
				Found:       true,
			},
		})
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start.cmp(ranges[j].Start) < 0 })
	return ranges, skipped, nil
}

// Source opens the dataset
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Table is a lazily loaded, read-only snapshot of the dataset. The first lookup
// loads it; concurrent first lookups share one load. Reload swaps in a fresh snapshot.
type Table struct {
	source Source
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	ranges []Range
	loaded bool
}

func NewTable(source Source, logger *slog.Logger) *Table {
	return &Table{source: source, logger: logger}
}

// Lookup returns the location of ip, or NotFound. An error means the dataset could not be loaded.
func (t *Table) Lookup(ctx context.Context, ip string) (Location, error) {
	ranges, err := t.snapshot(ctx)
	if err != nil {
		return NotFound, err
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return NotFound, nil
	}
	return search(ranges, addrToUint128(addr)), nil
}

func search(ranges []Range, v uint128) Location {
	// first range starting after v; the candidate is the one before it
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Start.cmp(v) > 0 })
	if i == 0 {
		return NotFound
	}
	r := ranges[i-1]
	if v.cmp(r.End) > 0 {
		return NotFound
	}
	return r.Location
}

// Len reports the number of loaded ranges
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ranges)
}

func (t *Table) snapshot(ctx context.Context) ([]Range, error) {
	t.mu.RLock()
	if t.loaded {
		ranges := t.ranges
		t.mu.RUnlock()
		return ranges, nil
	}
	t.mu.RUnlock()

	if err := t.load(ctx, false); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ranges, nil
}

// Reload reads the source again and replaces the snapshot
func (t *Table) Reload(ctx context.Context) error {
	return t.load(ctx, true)
}

func (t *Table) load(ctx context.Context, force bool) error {
	_, err, _ := t.group.Do("load", func() (any, error) {
		if !force {
			t.mu.RLock()
			loaded := t.loaded
			t.mu.RUnlock()
			if loaded {
				return nil, nil
			}
		}
		if t.source == nil {
			return nil, errors.New("geoip: no data source configured")
		}
		rc, err := t.source.Open(ctx)
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		ranges, skipped, err := Parse(rc)
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		t.ranges = ranges
		t.loaded = true
		t.mu.Unlock()

		t.logger.Info("ip location dataset loaded",
			slog.Int("ranges", len(ranges)),
			slog.Int("skipped_rows", skipped))
		return nil, nil
	})
	return err
}
