package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Status is the health payload.
type Status struct {
	OK                   bool   `json:"ok"`
	Database             string `json:"database"`
	TextDetectionEnabled bool   `json:"textDetectionEnabled"`
}

// Service encapsulates health-related checks.
type Service struct {
	DB                   Pinger
	TextDetectionEnabled func() bool
}

// NewService constructs a new health service. db may be nil when the process
// runs on in-memory repositories.
func NewService(db Pinger, textDetectionEnabled func() bool) *Service {
	return &Service{DB: db, TextDetectionEnabled: textDetectionEnabled}
}

// Status checks the database and reports whether text detection is on.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{OK: true, Database: "memory"}
	if s.TextDetectionEnabled != nil {
		st.TextDetectionEnabled = s.TextDetectionEnabled()
	}
	if s.DB == nil {
		return st
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		st.OK = false
		st.Database = "unreachable"
		return st
	}
	st.Database = "ok"
	return st
}
