package crawler

import (
	"testing"
	"time"
)

func TestParseBanDuration(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{
			name: "hours minutes seconds",
			body: "Your IP address has been temporarily banned. The ban expires in 2 hours, 30 minutes and 5 seconds",
			want: 2*time.Hour + 30*time.Minute + 5*time.Second,
		},
		{
			name: "minutes and seconds",
			body: "The ban expires in 59 minutes and 43 seconds",
			want: 59*time.Minute + 43*time.Second,
		},
		{
			name: "seconds only",
			body: "The ban expires in 43 seconds",
			want: 43 * time.Second,
		},
		{
			name: "singular units",
			body: "The ban expires in 1 hour and 1 minute",
			want: time.Hour + time.Minute,
		},
		{
			name: "no duration text",
			body: "You have been temporarily banned from this site",
			want: defaultBanDuration,
		},
		{
			name: "unparsable duration",
			body: "The ban expires in a little while",
			want: defaultBanDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseBanDuration(tt.body); got != tt.want {
				t.Errorf("parseBanDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
