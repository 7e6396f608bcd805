package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"ip literal public", "https://93.184.216.34/alerts", false},
		{"not a url", "://bad", true},
		{"wrong scheme", "ftp://example.com/alerts", true},
		{"no host", "https:///alerts", true},
		{"localhost", "http://localhost:8080/alerts", true},
		{"loopback literal", "http://127.0.0.1/alerts", true},
		{"private literal", "http://192.168.1.10/alerts", true},
		{"link local literal", "http://169.254.169.254/latest/meta-data", true},
		{"unspecified", "http://0.0.0.0/alerts", true},
		{"cloud metadata hostname", "http://metadata.google.internal/computeMetadata", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateEndpointURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
