package models

import (
	"testing"
	"time"
)

func TestValidateQuickReplies(t *testing.T) {
	cases := []struct {
		name    string
		qr      []string
		wantErr error
	}{
		{"empty ok", nil, nil},
		{"within limit", []string{"a", "b"}, nil},
		{"too many", make([]string, 11), ErrTooManyQuickReplies},
		{"empty entry", []string{"a", ""}, ErrEmptyQuickReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.name == "too many" {
				for i := range tc.qr {
					tc.qr[i] = "x"
				}
			}
			err := ValidateQuickReplies(tc.qr)
			if err != tc.wantErr {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestMessageIsDelayed(t *testing.T) {
	m := &Message{}
	if m.IsDelayed(time.Now()) {
		t.Fatal("zero DeliverAt should not be delayed")
	}
}

func TestRoleAllowsGroup(t *testing.T) {
	r := NewRole("r1", "worker", "you are a worker", nil, "root")
	if !r.AllowsGroup("org") {
		t.Fatal("nil ToolGroups should allow everything")
	}
	r.SetToolGroups([]string{"fs"})
	if r.AllowsGroup("org") {
		t.Fatal("restricted role should not allow ungranted group")
	}
	if !r.AllowsGroup("fs") {
		t.Fatal("restricted role should allow granted group")
	}
}
