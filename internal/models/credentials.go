// Package models defines types shared across internal packages.
package models

// Credentials is the stored token pair for one user session. Access is
// attached to every API call; Refresh is only used to mint a new Access.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Empty reports whether neither token is present.
func (c Credentials) Empty() bool {
	return c.Access == "" && c.Refresh == ""
}
