package main

import (
	"regexp"
	"strings"
)

// Exact validation patterns required by the wire format (§4.10). These
// differ from the decoder's own looser acceptance patterns and must be
// applied verbatim at the enrichment boundary.
var (
	callsignRE = regexp.MustCompile(`^[A-Z0-9]{1,3}[0-9][A-Z]{1,4}(/[A-Z0-9]+)?$`)
	gridRE     = regexp.MustCompile(`^[A-R]{2}[0-9]{2}([a-x]{2})?$`)
)

// EnrichedDecode carries everything decode_enrich derives from a raw
// decoded message body (§4.10).
type EnrichedDecode struct {
	Callsign       string
	Grid           string
	IsCQ           bool
	CQTargetToken  string
	IsMyCall       bool
	IsDirectedToMe bool
}

// IsValidCallsign applies the spec's exact callsign pattern.
func IsValidCallsign(s string) bool {
	return callsignRE.MatchString(s)
}

// IsValidGrid applies the spec's exact grid pattern.
func IsValidGrid(s string) bool {
	return gridRE.MatchString(s)
}

// continentCodes maps a CQ target token to the continent-matching
// rule in §4.10's table. A nil rule can't occur; "other" always yields
// false via the default case in isDirectedToMe.
var continentCodes = map[string]string{
	"NA": "NA", "SA": "SA", "EU": "EU", "AS": "AS", "AF": "AF", "OC": "OC",
	"EUROPE": "EU", "ASIA": "AS", "AFRICA": "AF",
}

// EnrichDecodeText parses a raw decode message body (e.g. "CQ DX K1ABC
// FN31", "K1ABC M0DEF -10") into the enriched fields the rest of the
// system needs (§4.10). Per §3, a message with no recognizable
// callsign yields Callsign == "" and the caller must drop the decode.
func EnrichDecodeText(message string, station StationProfile) EnrichedDecode {
	fields := strings.Fields(strings.TrimSpace(message))
	var out EnrichedDecode

	if len(fields) == 0 {
		return out
	}
	if fields[0] == "<...>" {
		return out
	}

	if strings.EqualFold(fields[0], "CQ") {
		out.IsCQ = true
		rest := fields[1:]
		if len(rest) >= 2 {
			token := strings.ToUpper(rest[0])
			if isCQTargetToken(token) {
				out.CQTargetToken = token
				rest = rest[1:]
			}
		}
		if len(rest) >= 1 && IsValidCallsign(strings.ToUpper(rest[0])) {
			out.Callsign = strings.ToUpper(rest[0])
		}
		if len(rest) >= 2 && IsValidGrid(rest[1]) {
			out.Grid = rest[1]
		}
	} else {
		limit := len(fields)
		if limit > 2 {
			limit = 2
		}
		for _, f := range fields[:limit] {
			up := strings.ToUpper(f)
			if IsValidCallsign(up) {
				out.Callsign = up
				break
			}
		}
		for _, f := range fields {
			if IsValidGrid(f) {
				out.Grid = f
				break
			}
		}
		out.IsMyCall = isDirectedToCallsign(fields, station.Callsign)
	}

	if out.IsCQ {
		out.IsDirectedToMe = isDirectedToMe(out.CQTargetToken, station)
	}

	return out
}

// isCQTargetToken recognizes the enumerated tokens WSJT-X places
// directly after "CQ" (§4.10): DX, JA, or a continent code/name.
func isCQTargetToken(token string) bool {
	if token == "DX" || token == "JA" {
		return true
	}
	_, ok := continentCodes[token]
	return ok
}

// isDirectedToMe implements the §4.10 CQ-targeting table: absent and
// DX always match; continent tokens match iff the station's own
// continent agrees; JA matches iff the station's DXCC prefix is a
// Japanese one; anything else never matches.
func isDirectedToMe(token string, station StationProfile) bool {
	if token == "" {
		return true
	}
	if token == "DX" {
		return true
	}
	if code, ok := continentCodes[token]; ok {
		return code == strings.ToUpper(station.Continent)
	}
	if token == "JA" {
		dxcc := strings.ToUpper(station.DXCC)
		return strings.HasPrefix(dxcc, "JA") || strings.HasPrefix(dxcc, "JR") || strings.HasPrefix(dxcc, "7J")
	}
	return false
}

// isDirectedToCallsign reports whether the station's own callsign
// appears as the addressed (first or second) token of a non-CQ
// message, per the WSJT-X convention of "<to> <from> <report>".
func isDirectedToCallsign(fields []string, myCall string) bool {
	if myCall == "" {
		return false
	}
	my := strings.ToUpper(myCall)
	limit := len(fields)
	if limit > 2 {
		limit = 2
	}
	for _, f := range fields[:limit] {
		if strings.ToUpper(f) == my {
			return true
		}
	}
	return false
}
