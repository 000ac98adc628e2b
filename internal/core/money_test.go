package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestConvertSum(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		rate     string
		inverted bool
		amount   string
		want     string
	}{
		{name: "exempt USD ignores rate", symbol: "USD", rate: "450", inverted: true, amount: "-100", want: "-100"},
		{name: "exempt USDT ignores rate", symbol: "USDT", rate: "0.5", inverted: false, amount: "42.42", want: "42.42"},
		{name: "inverted divides rounded", symbol: "KZT", rate: "450", inverted: true, amount: "-5000", want: "-11.11"},
		{name: "inverted division truncates the tail", symbol: "KZT", rate: "3", inverted: true, amount: "1", want: "0.33"},
		{name: "direct multiplies full precision", symbol: "EUR", rate: "1.085", inverted: false, amount: "-30", want: "-32.55"},
		{name: "direct keeps long tail", symbol: "EUR", rate: "1.0853", inverted: false, amount: "10.01", want: "10.863853"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ConvertSum(tc.symbol, mustDecimal(t, tc.rate), tc.inverted, mustDecimal(t, tc.amount))
			if got.String() != tc.want {
				t.Errorf("ConvertSum(%s, %s, %v, %s) = %s, want %s",
					tc.symbol, tc.rate, tc.inverted, tc.amount, got.String(), tc.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "12.34", want: "12.34"},
		{name: "comma separator", in: "12,34", want: "12.34"},
		{name: "negative", in: "-0.5", want: "-0.5"},
		{name: "surrounding space", in: " 7 ", want: "7"},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "12x", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) = %s, want error", tc.in, got.String())
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) error = %v", tc.in, err)
			}
			if got.String() != tc.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tc.in, got.String(), tc.want)
			}
		})
	}
}

func TestRoundDisplay(t *testing.T) {
	if got := RoundDisplay(mustDecimal(t, "844.4449")); got.String() != "844.44" {
		t.Errorf("RoundDisplay(844.4449) = %s, want 844.44", got.String())
	}
	if got := RoundDisplay(mustDecimal(t, "-155.555")); got.String() != "-155.56" {
		t.Errorf("RoundDisplay(-155.555) = %s, want -155.56", got.String())
	}
}
