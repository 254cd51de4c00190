package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestServiceURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"https", "https://api.openai.com/v1", nil},
		{"in-cluster http", "http://reranker:8080", nil},
		{"empty", " ", ErrEmpty},
		{"ftp scheme", "ftp://files.example.com", ErrDisallowedScheme},
		{"missing host", "http://", ErrInvalidURL},
		{"no scheme", "reranker:8080", ErrDisallowedScheme},
		{"embedded key", "https://sk-live:x@api.openai.com/v1", ErrInvalidURL},
		{"too long", "https://example.com/" + strings.Repeat("a", 2048), ErrStringTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ServiceURL(tt.input)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ServiceURL() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ServiceURL() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
