package internal

import "testing"

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name string
		ua   string
		want ParsedDevice
	}{
		{
			name: "chrome on windows",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want: ParsedDevice{Device: "desktop", Browser: "Chrome", OS: "Windows"},
		},
		{
			name: "safari on iphone",
			ua:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			want: ParsedDevice{Device: "mobile", Browser: "Safari", OS: "iOS"},
		},
		{
			name: "firefox on linux",
			ua:   "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			want: ParsedDevice{Device: "desktop", Browser: "Firefox", OS: "Linux"},
		},
		{
			name: "edge on mac",
			ua:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
			want: ParsedDevice{Device: "desktop", Browser: "Edge", OS: "macOS"},
		},
		{
			name: "empty",
			ua:   "",
			want: ParsedDevice{Device: "unknown", Browser: "unknown", OS: "unknown"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseUserAgent(tc.ua); got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
