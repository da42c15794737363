package models

const (
	RoleAdmin  = "admin"
	RoleDriver = "driver"
)

// User is the signed-in identity as returned by the login endpoint.
type User struct {
	ID       ID     `json:"userID"`
	Username string `json:"username"`
	Role     string `json:"role"`
}
