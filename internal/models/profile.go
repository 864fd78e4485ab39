package models

// Profile is the display identity of an account.
type Profile struct {
	Name   string `json:"name" mapstructure:"name"`
	Avatar string `json:"avatar" mapstructure:"avatar"`
}

// Label is the name, or the short address when no name is known.
func (p Profile) Label(address string) string {
	if p.Name != "" {
		return p.Name
	}
	return ShortAddress(address)
}
