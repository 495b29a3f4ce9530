package models

// Principal is the authenticated owner of a remote task copy.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
