package models

import "time"

// Major is the closed set of study programs.
type Major string

const (
	MajorInformatique  Major = "Informatique"
	MajorGenieLogiciel Major = "Génie Logiciel"
	MajorReseaux       Major = "Réseaux"
	MajorIA            Major = "IA"
	MajorCybersecurite Major = "Cybersécurité"
)

// Valid reports whether the major is a known program.
func (m Major) Valid() bool {
	switch m {
	case MajorInformatique, MajorGenieLogiciel, MajorReseaux, MajorIA, MajorCybersecurite:
		return true
	}
	return false
}

// Level is the closed set of academic levels.
type Level string

const (
	LevelL1 Level = "L1"
	LevelL2 Level = "L2"
	LevelL3 Level = "L3"
	LevelM1 Level = "M1"
	LevelM2 Level = "M2"
)

// Valid reports whether the level is a known value.
func (l Level) Valid() bool {
	switch l {
	case LevelL1, LevelL2, LevelL3, LevelM1, LevelM2:
		return true
	}
	return false
}

// StudentStatus is the enrollment status of a student record.
type StudentStatus string

const (
	StatusActive    StudentStatus = "ACTIVE"
	StatusSuspended StudentStatus = "SUSPENDED"
	StatusGraduated StudentStatus = "GRADUATED"
	StatusDropped   StudentStatus = "DROPPED"
)

// Valid reports whether the status is a known value.
func (s StudentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusGraduated, StatusDropped:
		return true
	}
	return false
}

// Student represents a student record owned by this service. RecordID and
// SubjectID are assigned at creation and never change afterwards.
type Student struct {
	ID             string        `db:"id" json:"id"`
	RecordID       string        `db:"record_id" json:"record_id"`
	SubjectID      string        `db:"subject_id" json:"subject_id"`
	FirstName      string        `db:"first_name" json:"first_name"`
	LastName       string        `db:"last_name" json:"last_name"`
	DateOfBirth    time.Time     `db:"date_of_birth" json:"date_of_birth"`
	Email          string        `db:"email" json:"email"`
	Phone          string        `db:"phone" json:"phone,omitempty"`
	Street         string        `db:"street" json:"street,omitempty"`
	City           string        `db:"city" json:"city,omitempty"`
	ZipCode        string        `db:"zip_code" json:"zip_code,omitempty"`
	Country        string        `db:"country" json:"country,omitempty"`
	EnrollmentDate time.Time     `db:"enrollment_date" json:"enrollment_date"`
	Major          Major         `db:"major" json:"major"`
	Level          Level         `db:"level" json:"level"`
	Status         StudentStatus `db:"status" json:"status"`
	GPA            float64       `db:"gpa" json:"gpa"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// FullName returns the display name of the student.
func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentFilter encapsulates allowed parameters for listing students.
type StudentFilter struct {
	Search string
	Major  Major
	Level  Level
	Status StudentStatus
	Page   int
	Limit  int
}

// Pagination carries page metadata alongside list responses.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Limit int `json:"limit"`
}

// StudentStatistics is the aggregate snapshot exposed by the statistics
// endpoint. ByMajor and ByLevel count ACTIVE records only.
type StudentStatistics struct {
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Graduated int            `json:"graduated"`
	AvgGPA    float64        `json:"avg_gpa"`
	ByMajor   map[string]int `json:"by_major"`
	ByLevel   map[string]int `json:"by_level"`
}
