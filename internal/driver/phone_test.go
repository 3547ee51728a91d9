package driver

import (
	"testing"

	"github.com/chatbridge/wa-gateway/internal/gwerr"
)

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		countryCode string
		want        string
	}{
		{
			name:        "short local number gets country code",
			raw:         "5551234",
			countryCode: "1",
			want:        "15551234@s.whatsapp.net",
		},
		{
			name:        "international prefix passes through",
			raw:         "+15551234567",
			countryCode: "1",
			want:        "+15551234567@s.whatsapp.net",
		},
		{
			name:        "address with @ is verbatim",
			raw:         "15551234567@s.whatsapp.net",
			countryCode: "1",
			want:        "15551234567@s.whatsapp.net",
		},
		{
			name:        "group address is verbatim",
			raw:         "123456789-987654@g.us",
			countryCode: "1",
			want:        "123456789-987654@g.us",
		},
		{
			name:        "ten digits still gets country code",
			raw:         "5551234567",
			countryCode: "49",
			want:        "495551234567@s.whatsapp.net",
		},
		{
			name:        "eleven digits left alone",
			raw:         "15551234567",
			countryCode: "1",
			want:        "15551234567@s.whatsapp.net",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTarget(tt.raw, tt.countryCode)
			if err != nil {
				t.Fatalf("NormalizeTarget(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeTarget(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeTargetEmpty(t *testing.T) {
	_, err := NormalizeTarget("", "1")
	if err == nil {
		t.Fatal("expected error for empty target")
	}
	if gwerr.KindOf(err) != gwerr.KindInvalidTarget {
		t.Errorf("expected invalid_target kind, got %q", gwerr.KindOf(err))
	}
}
