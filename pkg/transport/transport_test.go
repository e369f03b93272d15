package transport

import (
	"errors"
	"testing"
	"time"
)

func TestProfile(t *testing.T) {
	t.Run("Core Functionality: identity and address", func(t *testing.T) {
		p := Profile{Host: "example.com", Port: 2222, Username: "deploy"}
		if got := p.Identity(); got != "deploy@example.com:2222" {
			t.Errorf("Unexpected identity: %s", got)
		}
		if got := p.Addr(); got != "example.com:2222" {
			t.Errorf("Unexpected address: %s", got)
		}
	})

	t.Run("Error Handling: validation", func(t *testing.T) {
		cases := []struct {
			name    string
			profile Profile
			wantErr bool
		}{
			{"valid", Profile{Host: "h", Port: 22, Username: "u"}, false},
			{"missing host", Profile{Port: 22, Username: "u"}, true},
			{"missing username", Profile{Host: "h", Port: 22}, true},
			{"zero port", Profile{Host: "h", Username: "u"}, true},
			{"port out of range", Profile{Host: "h", Port: 70000, Username: "u"}, true},
		}
		for _, tc := range cases {
			err := tc.profile.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("%s: got err=%v, wantErr=%v", tc.name, err, tc.wantErr)
			}
		}
	})
}

func TestMarker(t *testing.T) {
	now := time.Now()
	a := Entry{Name: "f", Size: 10, ModTime: now}.Marker()
	b := Entry{Name: "f", Size: 10, ModTime: now}.Marker()
	if !a.Equal(b) {
		t.Error("Identical entries should produce equal markers")
	}

	grown := Entry{Name: "f", Size: 11, ModTime: now}.Marker()
	if a.Equal(grown) {
		t.Error("Size change should change the marker")
	}

	touched := Entry{Name: "f", Size: 10, ModTime: now.Add(time.Second)}.Marker()
	if a.Equal(touched) {
		t.Error("Modification time change should change the marker")
	}
}

func TestIsAuthFailure(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("ssh: unable to authenticate, attempted methods [none password]"), true},
		{errors.New("ssh: handshake failed: no supported methods remain"), true},
		{errors.New("permission denied (publickey)"), true},
		{errors.New("dial tcp 10.0.0.1:22: connection refused"), false},
		{errors.New("ssh: handshake failed: EOF"), false},
	}
	for _, tc := range cases {
		if got := isAuthFailure(tc.err); got != tc.want {
			t.Errorf("isAuthFailure(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
