package main

// bandRange is one entry of the fixed frequency-to-band table (§3).
type bandRange struct {
	label    string
	startHz  uint64
	endHz    uint64
}

// bandTable covers the amateur HF/VHF allocations the decoder bands
// configured in §6 can plausibly live on. Grounded on the band-name
// conventions used throughout the decoder configuration (e.g. "20m",
// "40m") rather than a dynamically loaded band plan.
var bandTable = []bandRange{
	{"160m", 1_800_000, 2_000_000},
	{"80m", 3_500_000, 4_000_000},
	{"60m", 5_330_000, 5_410_000},
	{"40m", 7_000_000, 7_300_000},
	{"30m", 10_100_000, 10_150_000},
	{"20m", 14_000_000, 14_350_000},
	{"17m", 18_068_000, 18_168_000},
	{"15m", 21_000_000, 21_450_000},
	{"12m", 24_890_000, 24_990_000},
	{"10m", 28_000_000, 29_700_000},
	{"6m", 50_000_000, 54_000_000},
	{"2m", 144_000_000, 148_000_000},
}

// BandForFrequency returns the matching band label for an absolute RF
// frequency in Hz, or "" if none of the fixed table's ranges match
// (SPEC_FULL §3/§8 — total function, never panics).
func BandForFrequency(hz uint64) string {
	for _, b := range bandTable {
		if hz >= b.startHz && hz <= b.endHz {
			return b.label
		}
	}
	return ""
}
