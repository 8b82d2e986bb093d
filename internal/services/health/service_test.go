package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestStatus(t *testing.T) {
	enabled := func() bool { return true }
	tests := []struct {
		name string
		db   Pinger
		ok   bool
		want string
	}{
		{name: "memory", db: nil, ok: true, want: "memory"},
		{name: "healthy", db: fakePinger{}, ok: true, want: "ok"},
		{name: "down", db: fakePinger{err: errors.New("refused")}, ok: false, want: "unreachable"},
	}
	for _, tt := range tests {
		st := NewService(tt.db, enabled).Status(context.Background())
		if st.OK != tt.ok || st.Database != tt.want || !st.TextDetectionEnabled {
			t.Fatalf("%s: unexpected status %+v", tt.name, st)
		}
	}
}
