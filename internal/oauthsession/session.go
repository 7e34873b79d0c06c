package oauthsession

import (
	"github.com/ory/fosite"
)

// Session extends DefaultSession with the sealed downstream session props.
// The upstream credential never appears in clear text in grant storage.
type Session struct {
	*fosite.DefaultSession
	SealedProps string `json:"sealed_props"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name,omitempty"`
}

// New returns an empty session suitable for fosite lookups.
func New() *Session {
	return &Session{DefaultSession: &fosite.DefaultSession{}}
}

// Clone implements fosite.Session
func (s *Session) Clone() fosite.Session {
	if s == nil {
		return nil
	}
	return &Session{
		DefaultSession: s.DefaultSession.Clone().(*fosite.DefaultSession),
		SealedProps:    s.SealedProps,
		UserID:         s.UserID,
		UserName:       s.UserName,
	}
}
