// Package ratelimit implements fixed-window request counting per client key.
package ratelimit

import "time"

// Policy is a named request class with its own window and ceiling.
type Policy struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
}

// Built-in policies.
var (
	General = Policy{
		Name:    "general",
		Window:  15 * time.Minute,
		Max:     100,
		Message: "Too many requests from this IP, please try again later.",
	}
	Auth = Policy{
		Name:    "auth",
		Window:  15 * time.Minute,
		Max:     5,
		Message: "Too many authentication attempts, please try again later.",
	}
	Tracking = Policy{
		Name:    "tracking",
		Window:  time.Minute,
		Max:     1000,
		Message: "Too many tracking requests, please slow down.",
	}
	Admin = Policy{
		Name:    "admin",
		Window:  15 * time.Minute,
		Max:     200,
		Message: "Too many admin requests, please try again later.",
	}
	PasswordReset = Policy{
		Name:    "password_reset",
		Window:  time.Hour,
		Max:     3,
		Message: "Too many password reset attempts, please try again later.",
	}
	Upload = Policy{
		Name:    "upload",
		Window:  15 * time.Minute,
		Max:     10,
		Message: "Too many uploads, please try again later.",
	}
)

// Policies lists the built-in policies.
func Policies() []Policy {
	return []Policy{General, Auth, Tracking, Admin, PasswordReset, Upload}
}

// WithLimits returns a copy of p with the window and maximum replaced.
// Zero values keep the current setting.
func (p Policy) WithLimits(window time.Duration, max int) Policy {
	if window > 0 {
		p.Window = window
	}
	if max > 0 {
		p.Max = max
	}
	return p
}
