package models

import "time"

// Contact is a read-only recipient record owned by the contact manager
type Contact struct {
	ID        int       `json:"id" db:"id"`
	TenantID  int       `json:"tenant_id" db:"tenant_id"`
	Name      *string   `json:"name,omitempty" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Notes     *string   `json:"notes,omitempty" db:"notes"`
	Tags      []int64   `json:"tags" db:"tags"`
	TagNames  []string  `json:"tag_names" db:"tag_names"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns the contact's name or a neutral fallback
func (c *Contact) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return "Customer"
}

// Variables returns the template variables available for this contact
func (c *Contact) Variables() map[string]string {
	vars := map[string]string{
		"name":  "",
		"phone": c.Phone,
		"email": "",
		"tag":   "",
		"notes": "",
	}
	if c.Name != nil {
		vars["name"] = *c.Name
	}
	if c.Email != nil {
		vars["email"] = *c.Email
	}
	if c.Notes != nil {
		vars["notes"] = *c.Notes
	}
	if len(c.TagNames) > 0 {
		vars["tag"] = c.TagNames[0]
	}
	return vars
}
