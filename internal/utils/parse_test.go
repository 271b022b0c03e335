package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{" 42 ", 7, 42},
		{"-13", 1, -13},
		{"4k", 5, 5},
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestClampAtoi(t *testing.T) {
	cases := []struct {
		s    string
		want int
	}{
		{"", 100},
		{"abc", 100},
		{"0", 1},
		{"-5", 1},
		{"250", 250},
		{"10000", 500},
	}
	for _, tc := range cases {
		if got := ClampAtoi(tc.s, 100, 1, 500); got != tc.want {
			t.Fatalf("ClampAtoi(%q) = %d; want %d", tc.s, got, tc.want)
		}
	}
}
