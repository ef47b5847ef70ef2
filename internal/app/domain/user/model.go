// Package user holds the identity records the gateway resolves before handing
// a request to business handlers.
package user

import "time"

// OnboardingState tracks how far a user is through first-time setup.
type OnboardingState string

const (
	OnboardingNew                   OnboardingState = "new"
	OnboardingPersonalInfoSubmitted OnboardingState = "personal_info_submitted"
	OnboardingCompleted             OnboardingState = "completed"
)

// User is a messaging-platform account known to the bot. WAID is the
// platform's stable identifier for the person.
type User struct {
	ID         string
	WAID       string
	Name       string
	BirthDate  *time.Time
	Region     string
	SchoolName string
	Onboarding OnboardingState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subject is a teachable subject users select during onboarding.
type Subject struct {
	ID   int64
	Name string
}

// Class is one grade-level class offered for a subject.
type Class struct {
	ID        int64
	SubjectID int64
	Name      string
}
