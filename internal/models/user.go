package models

// User is owned by the identity subsystem. The chat core only reads it.
type User struct {
	ID    string `json:"id" bson:"_id" db:"id" yaml:"id"`
	Name  string `json:"name" bson:"name" db:"name" yaml:"name"`
	Email string `json:"email" bson:"email" db:"email" yaml:"email"`
	Role  string `json:"role" bson:"role" db:"role" yaml:"role"`
}

// Participant is the display projection of a user embedded in every
// message and conversation sent to clients.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ParticipantFor projects u for the wire. A nil user keeps only the id so
// clients can still render something.
func ParticipantFor(id string, u *User) Participant {
	if u == nil {
		return Participant{ID: id}
	}
	return Participant{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// Job is the subset of a job listing used to validate a message context.
type Job struct {
	ID         string `json:"id" db:"id"`
	Title      string `json:"title" db:"title"`
	EmployerID string `json:"employerId" db:"employer_id"`
}
