package domain

// Source is one discussion group being ingested.
type Source struct {
	ID   string
	Name string
	// OwnerID identifies the privileged author whose opinion is extracted separately.
	OwnerID string
}

// Credentials are the session cookies used against the upstream.
type Credentials struct {
	Cookies map[string]string
}

// Valid reports whether any cookie is present.
func (c Credentials) Valid() bool {
	return len(c.Cookies) > 0
}
