package main

import (
	"testing"
	"time"
)

func TestParseFlagTime(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"empty", "", time.Time{}, false},
		{"date", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 offset", "2024-03-01T02:00:00+02:00", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"garbage", "last week", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlagTime("from", tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlagTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseFlagTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
