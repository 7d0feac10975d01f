package domain

// ServiceRole is the role carried by service-to-service tokens.
type ServiceRole string

const (
	// ServiceRoleSystem is used by collaborating services such as the ticket service.
	ServiceRoleSystem ServiceRole = "SYSTEM"
	ServiceRoleAdmin  ServiceRole = "ADMIN"
	ServiceRoleViewer ServiceRole = "VIEWER"
)

// Valid reports whether the role is known.
func (r ServiceRole) Valid() bool {
	switch r {
	case ServiceRoleSystem, ServiceRoleAdmin, ServiceRoleViewer:
		return true
	}
	return false
}
