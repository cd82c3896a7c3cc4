// Package request bundles the read-only data and per-query parameters a
// journey search runs against: which realtime level to read, which
// comparator to rank labels with, and the forbidden/allowed URI filters.
// It is deliberately one concrete struct rather than a per-flavor
// interface/generic pair; see internal/routing/criteria's doc comment for
// why the basic/loads distinction is a runtime flag instead.
package request

import (
	"strings"

	"github.com/samirrijal/bilbopass/internal/routing/criteria"
	"github.com/samirrijal/bilbopass/internal/routing/timetable"
	"github.com/samirrijal/bilbopass/internal/routing/transitdata"
)

// Adapter is what the engine reads a search from: the data snapshot, the
// realtime level, the comparator whose cost model the engine applies, and
// the forbidden/allowed URI filters that StopAllowed and MissionAllowed
// check before a stop or mission may take part at all.
type Adapter struct {
	Data       *transitdata.Data
	Level      timetable.RealTimeLevel
	Comparator criteria.Comparator

	// Forbidden/Allowed hold URIs of the form "stop_point:<id>",
	// "line:<id>", "route:<id>", "network:<id>", "physical_mode:<id>",
	// "commercial_mode:<id>". A nil Allowed means "everything allowed
	// except Forbidden"; a non-nil Allowed additionally restricts to
	// exactly that set.
	Forbidden map[string]struct{}
	Allowed   map[string]struct{}
}

// New builds an Adapter with no filtering.
func New(data *transitdata.Data, level timetable.RealTimeLevel, cmp criteria.Comparator) *Adapter {
	return &Adapter{Data: data, Level: level, Comparator: cmp}
}

func uris(stopID string, m *timetable.Mission) []string {
	out := make([]string, 0, 6)
	if stopID != "" {
		out = append(out, "stop_point:"+stopID)
	}
	if m != nil {
		if m.Line != "" {
			out = append(out, "line:"+m.Line)
		}
		if m.Route != "" {
			out = append(out, "route:"+m.Route)
		}
		if m.Network != "" {
			out = append(out, "network:"+m.Network)
		}
		if m.PhysicalMode != "" {
			out = append(out, "physical_mode:"+m.PhysicalMode)
		}
		if m.CommercialMode != "" {
			out = append(out, "commercial_mode:"+m.CommercialMode)
		}
	}
	return out
}

// StopAllowed reports whether a bare stop (used for transfers, which carry
// no line/route/network identity) passes the filters.
func (a *Adapter) StopAllowed(stop timetable.StopIdx) bool {
	return a.allowed(uris(a.Data.Stops[stop].ID, nil))
}

// MissionAllowed reports whether boarding/riding/debarking mission m at
// stop passes the filters.
func (a *Adapter) MissionAllowed(m *timetable.Mission, stop timetable.StopIdx) bool {
	return a.allowed(uris(a.Data.Stops[stop].ID, m))
}

func (a *Adapter) allowed(candidateURIs []string) bool {
	for _, u := range candidateURIs {
		if _, bad := a.Forbidden[u]; bad {
			return false
		}
	}
	if a.Allowed == nil {
		return true
	}
	for _, u := range candidateURIs {
		if _, ok := a.Allowed[u]; ok {
			return true
		}
	}
	return false
}

// ParseURIList splits a comma-separated forbidden/allowed URI list into a
// lookup set, lower-casing prefixes for forgiving matching (the id part is
// kept verbatim since stop/line identifiers are often case-sensitive).
func ParseURIList(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		colon := strings.IndexByte(tok, ':')
		if colon < 0 {
			continue // unrecognized token shape, silently ignored per the filter sublanguage's forgiving parsing
		}
		prefix := strings.ToLower(tok[:colon])
		switch prefix {
		case "stop_point", "stop_area", "line", "route", "network", "physical_mode", "commercial_mode":
			out[prefix+tok[colon:]] = struct{}{}
		}
	}
	return out
}
