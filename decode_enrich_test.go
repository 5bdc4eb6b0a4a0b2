package main

import "testing"

func TestIsValidCallsign(t *testing.T) {
	valid := []string{"K1ABC", "W1AW", "G4ABC/P", "JA1XYZ", "3DA0RS"}
	for _, c := range valid {
		if !IsValidCallsign(c) {
			t.Errorf("expected %q to be a valid callsign", c)
		}
	}
	invalid := []string{"", "ABC", "12345", "k1abc", "CQ"}
	for _, c := range invalid {
		if IsValidCallsign(c) {
			t.Errorf("expected %q to be an invalid callsign", c)
		}
	}
}

func TestIsValidGrid(t *testing.T) {
	valid := []string{"FN31", "JO62", "FN31pr"}
	for _, g := range valid {
		if !IsValidGrid(g) {
			t.Errorf("expected %q to be a valid grid", g)
		}
	}
	invalid := []string{"", "FN3", "fn31", "FN311"}
	for _, g := range invalid {
		if IsValidGrid(g) {
			t.Errorf("expected %q to be an invalid grid", g)
		}
	}
}

func TestEnrichDecodeTextCQWithTarget(t *testing.T) {
	station := StationProfile{Callsign: "W1AW", Continent: "NA", DXCC: "K"}
	got := EnrichDecodeText("CQ DX K1ABC FN31", station)
	if !got.IsCQ || got.Callsign != "K1ABC" || got.Grid != "FN31" || got.CQTargetToken != "DX" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !got.IsDirectedToMe {
		t.Error("CQ DX should always be directed to every station")
	}
}

func TestEnrichDecodeTextCQContinentMismatch(t *testing.T) {
	station := StationProfile{Callsign: "W1AW", Continent: "NA"}
	got := EnrichDecodeText("CQ EU K1ABC FN31", station)
	if got.IsDirectedToMe {
		t.Error("CQ EU should not be directed to a NA station")
	}
}

func TestEnrichDecodeTextCQJA(t *testing.T) {
	got := EnrichDecodeText("CQ JA JA1XYZ PM95", StationProfile{DXCC: "JA"})
	if !got.IsDirectedToMe {
		t.Error("CQ JA should be directed to a JA-prefixed station")
	}
	got2 := EnrichDecodeText("CQ JA JA1XYZ PM95", StationProfile{DXCC: "K"})
	if got2.IsDirectedToMe {
		t.Error("CQ JA should not be directed to a non-JA station")
	}
}

func TestEnrichDecodeTextCQNoTarget(t *testing.T) {
	got := EnrichDecodeText("CQ K1ABC FN31", StationProfile{Continent: "AS"})
	if got.CQTargetToken != "" {
		t.Errorf("expected no target token, got %q", got.CQTargetToken)
	}
	if !got.IsDirectedToMe {
		t.Error("an absent target token must match every station")
	}
}

func TestEnrichDecodeTextDirectedReply(t *testing.T) {
	got := EnrichDecodeText("W1AW K1ABC -10", StationProfile{Callsign: "W1AW"})
	if !got.IsMyCall {
		t.Error("message addressed to my callsign should set IsMyCall")
	}
	if got.Callsign != "W1AW" && got.Callsign != "K1ABC" {
		t.Errorf("expected one of the two callsigns to be extracted, got %q", got.Callsign)
	}
}

func TestEnrichDecodeTextNoCallsignDrops(t *testing.T) {
	got := EnrichDecodeText("<...>", StationProfile{})
	if got.Callsign != "" {
		t.Error("unparseable decode text must yield an empty callsign")
	}
}

func TestEnrichDecodeTextEmpty(t *testing.T) {
	got := EnrichDecodeText("", StationProfile{})
	if got.Callsign != "" || got.IsCQ {
		t.Errorf("empty message should yield a zero-value result, got %+v", got)
	}
}
