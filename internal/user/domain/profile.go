package domain

import "encoding/json"

// Profile is the outward projection of a User carried in session tokens. It is built by
// copying each exposed field; credential columns have no counterpart here.
type Profile struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	Name       *string         `json:"name"`
	Info       json.RawMessage `json:"info"`
	Mobile     *string         `json:"mobile"`
	Avatar     *string         `json:"avatar"`
	Permission Permission      `json:"permission"`
	Method     AuthMethod      `json:"method"`
}

// NewProfile projects u. Returns nil for a nil user.
func NewProfile(u *User) *Profile {
	if u == nil {
		return nil
	}
	p := &Profile{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Mobile:     u.Mobile,
		Avatar:     u.Avatar,
		Permission: u.Permission,
		Method:     u.Method,
	}
	if len(u.Info) > 0 {
		p.Info = append(json.RawMessage(nil), u.Info...)
	}
	return p
}
