package utils

import (
	"testing"
)

func TestSanitizeDeviceName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"LowercaseSimple", "MacBook", "macbook"},
		{"SpacesToHyphens", "My Device", "my-device"},
		{"RemoveSpecialChars", "My@Device#123!", "mydevice123"},
		{"RemoveConsecutiveHyphens", "my--device", "my-device"},
		{"TrimHyphens", "-my-device-", "my-device"},
		{"EmptyToDefault", "", "device"},
		{"OnlySpecialChars", "@#$%", "device"},
		{"PreserveUnderscores", "my_device", "my_device"},
		{"ComplexName", "  My MacBook Pro! #1  ", "my-macbook-pro-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := SanitizeDeviceName(tc.input)
			if result != tc.expected {
				t.Errorf("SanitizeDeviceName(%q) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestDefaultDeviceName(t *testing.T) {
	name := DefaultDeviceName()
	if !IsValidDeviceName(name) {
		t.Errorf("DefaultDeviceName() = %q is not a valid device name", name)
	}
}

func TestIsValidDeviceName(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"laptop", true},
		{"work_pc-2", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
	}
	for _, tc := range tests {
		if got := IsValidDeviceName(tc.input); got != tc.valid {
			t.Errorf("IsValidDeviceName(%q) = %v, expected %v", tc.input, got, tc.valid)
		}
	}
}

func TestReadInput_PrefersArgument(t *testing.T) {
	got, err := ReadInput([]string{"hello"})
	if err != nil {
		t.Fatalf("ReadInput failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadInput() = %q, expected %q", got, "hello")
	}
}
