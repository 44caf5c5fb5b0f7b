package main

import (
	"testing"

	"github.com/YunoHost/cli/internal/session"
)

func TestScalarString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{float64(3), "3"},
		{float64(3.5), "3.5"},
		{true, "yes"},
		{false, "no"},
	}
	for _, tt := range tests {
		if got := scalarString(tt.in); got != tt.want {
			t.Errorf("scalarString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		resp *session.Response
		want string
	}{
		{
			name: "structured error",
			resp: &session.Response{Status: "400 Bad Request", Body: []byte(`{"error": "Domain already exists"}`)},
			want: "Domain already exists",
		},
		{
			name: "plain body",
			resp: &session.Response{Status: "500 Internal Server Error", Body: []byte("  something broke \n")},
			want: "something broke",
		},
		{
			name: "empty body falls back to status",
			resp: &session.Response{Status: "502 Bad Gateway", Body: nil},
			want: "502 Bad Gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apiErrorMessage(tt.resp); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsScalar(t *testing.T) {
	if !isScalar("x") || !isScalar(float64(1)) || !isScalar(nil) {
		t.Fatal("scalars misclassified")
	}
	if isScalar(map[string]any{}) || isScalar([]any{}) {
		t.Fatal("containers classified as scalar")
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}
	got := sortedKeys(m)
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sortedKeys = %v", got)
		}
	}
}
