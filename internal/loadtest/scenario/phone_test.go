package scenario

import (
	"errors"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"testing"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		vu        int
		iteration int64
		want      string
	}{
		{1, 0, "13900010000"},
		{7, 3, "13900070003"},
		{1000, 59, "13910000059"},
		{9999, 9999, "13999999999"},
	}
	for _, tt := range tests {
		got, err := Phone("139", tt.vu, tt.iteration)
		if err != nil {
			t.Fatalf("Phone(%d, %d) error = %v", tt.vu, tt.iteration, err)
		}
		if got != tt.want {
			t.Errorf("Phone(%d, %d) = %q, want %q", tt.vu, tt.iteration, got, tt.want)
		}
	}
}

func TestPhone_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for vu := 1; vu <= 30; vu++ {
		for it := int64(0); it < 30; it++ {
			p, err := Phone("139", vu, it)
			if err != nil {
				t.Fatal(err)
			}
			if seen[p] {
				t.Fatalf("duplicate phone %s for vu %d iteration %d", p, vu, it)
			}
			seen[p] = true
		}
	}
}

func TestPhone_SpaceExhausted(t *testing.T) {
	for _, tc := range []struct {
		vu int
		it int64
	}{{10000, 0}, {1, 10000}, {-1, 0}} {
		if _, err := Phone("139", tc.vu, tc.it); !errors.Is(err, ErrPhoneSpaceExhausted) {
			t.Errorf("Phone(%d, %d) error = %v, want ErrPhoneSpaceExhausted", tc.vu, tc.it, err)
		}
	}
}

func TestRandomIPv4_Ranges(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 5000; i++ {
		ip := RandomIPv4(r)
		if net.ParseIP(ip) == nil {
			t.Fatalf("RandomIPv4() = %q, not an IP", ip)
		}
		for n, part := range strings.Split(ip, ".") {
			v, _ := strconv.Atoi(part)
			if n == 0 && (v < 1 || v > 255) {
				t.Fatalf("first octet %d out of 1..255 in %s", v, ip)
			}
			if n > 0 && (v < 0 || v > 254) {
				t.Fatalf("octet %d out of 0..254 in %s", v, ip)
			}
		}
	}
}

func TestRandomIPv4_Global(t *testing.T) {
	if net.ParseIP(RandomIPv4(nil)) == nil {
		t.Error("RandomIPv4(nil) did not return an IP")
	}
}
