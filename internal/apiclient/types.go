package apiclient

import "time"

// BaseEntity carries the fields every managed entity shares.
type BaseEntity struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Device is a registered measurement source.
type Device struct {
	BaseEntity
	Name       string  `json:"name"`
	APIKey     string  `json:"apiKey"`
	DataFormat string  `json:"dataFormat"`
	IsActive   bool    `json:"isActive"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// UserRole is a role assignment as carried on a user record.
type UserRole struct {
	RoleID   string `json:"roleId"`
	RoleName string `json:"roleName"`
}

// UserGroup is a group membership as carried on a user record.
type UserGroup struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
}

// User is a dashboard account.
type User struct {
	BaseEntity
	UserName  string      `json:"userName"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Roles     []UserRole  `json:"roles"`
	Groups    []UserGroup `json:"groups"`
}

// Role is a named permission level. Priority feeds the role hierarchy;
// higher values outrank lower ones.
type Role struct {
	BaseEntity
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// Group bundles roles for bulk assignment.
type Group struct {
	BaseEntity
	Name        string `json:"name"`
	Description string `json:"description"`
	Roles       []Role `json:"roles"`
}

// RoleNames extracts the role names from a user record, in assignment
// order, for use with the role hierarchy authorizer.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.RoleName)
	}
	return names
}

// Standard resource paths on the system API.
const (
	PathDevices = "/devices"
	PathUsers   = "/users"
	PathRoles   = "/roles"
	PathGroups  = "/groups"
)

// Devices returns the typed device resource.
func Devices(c *Client) *Resource[Device] { return NewResource[Device](c, PathDevices) }

// Users returns the typed user resource.
func Users(c *Client) *Resource[User] { return NewResource[User](c, PathUsers) }

// Roles returns the typed role resource.
func Roles(c *Client) *Resource[Role] { return NewResource[Role](c, PathRoles) }

// Groups returns the typed group resource.
func Groups(c *Client) *Resource[Group] { return NewResource[Group](c, PathGroups) }
