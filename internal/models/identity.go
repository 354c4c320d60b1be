package models

// Role is the closed set of roles issued by the identity provider.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleProfessor Role = "PROFESSOR"
	RoleStudent   Role = "STUDENT"
)

// Identity holds the claims resolved for the current request. It is produced
// by the identity provider per request and never persisted here.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Role      Role   `json:"role"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
}
