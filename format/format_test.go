package format

import "testing"

func TestParameters(t *testing.T) {
	cases := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.00K"},
		{12500, "12.5K"},
		{1000000, "1.00M"},
		{125000000, "125M"},
		{2800000000, "2.80B"},
	}

	for _, tc := range cases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := Parameters(tc.input); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 KB"},
		{1500000, "1.5 MB"},
		{3000000000, "3.0 GB"},
	}

	for _, tc := range cases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := HumanBytes(tc.input); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}
