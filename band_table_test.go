package main

import "testing"

func TestBandForFrequency(t *testing.T) {
	cases := []struct {
		hz   uint64
		want string
	}{
		{7_074_000, "40m"},
		{14_074_000, "20m"},
		{28_074_000, "10m"},
		{1_000, ""},
		{1_800_000, "160m"},
		{2_000_000, "160m"},
	}
	for _, c := range cases {
		if got := BandForFrequency(c.hz); got != c.want {
			t.Errorf("BandForFrequency(%d) = %q, want %q", c.hz, got, c.want)
		}
	}
}

func TestBandForFrequencyNeverPanics(t *testing.T) {
	for _, hz := range []uint64{0, 1, 1 << 40} {
		_ = BandForFrequency(hz)
	}
}

func TestChannelLetterBounds(t *testing.T) {
	if ChannelLetter(-1) != "?" {
		t.Error("negative index should be unknown")
	}
	if ChannelLetter(4) != "?" {
		t.Error("out-of-range index should be unknown")
	}
	want := []string{"A", "B", "C", "D"}
	for i, w := range want {
		if got := ChannelLetter(i); got != w {
			t.Errorf("ChannelLetter(%d) = %q, want %q", i, got, w)
		}
	}
}
