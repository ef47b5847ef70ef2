package flows

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/internal/app/services/flowtoken"
	"github.com/shule-ai/tutor-gateway/internal/app/services/messaging"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// FlowIDs names the flows this deployment has published on the platform.
type FlowIDs struct {
	Onboarding     string
	SelectSubjects string
	SelectClasses  string
}

// FlowSender is the outbound half of the messaging client contract.
type FlowSender interface {
	SendFlow(ctx context.Context, msg messaging.FlowMessage) error
	SendText(ctx context.Context, to, body string) error
}

// Sender builds and sends interactive flow invitations, minting a fresh flow
// token for each so the reply can be tied back to the user.
type Sender struct {
	client   FlowSender
	tokens   *flowtoken.Codec
	subjects storage.SubjectStore
	flows    FlowIDs
	log      *logger.Logger
}

// NewSender constructs a sender.
func NewSender(client FlowSender, tokens *flowtoken.Codec, subjects storage.SubjectStore, flows FlowIDs, log *logger.Logger) *Sender {
	if log == nil {
		log = logger.NewDefault("flow-sender")
	}
	return &Sender{client: client, tokens: tokens, subjects: subjects, flows: flows, log: log}
}

// adulthood is the youngest birth date the onboarding date picker accepts.
func maxBirthDate() string {
	return time.Now().AddDate(-18, 0, 0).Format("2006-01-02")
}

// SendOnboardingFlow invites a new user to submit personal and school info.
func (s *Sender) SendOnboardingFlow(ctx context.Context, u user.User) error {
	token, err := s.tokens.Encode(flowtoken.Token{WAID: u.WAID, FlowID: s.flows.Onboarding})
	if err != nil {
		return err
	}
	name := u.Name
	if name == "" {
		name = "Name"
	}
	return s.client.SendFlow(ctx, messaging.FlowMessage{
		To:           u.WAID,
		FlowID:       s.flows.Onboarding,
		FlowToken:    token,
		Header:       "Welcome! Let's get you set up",
		Body:         "Tell us a little about yourself and your school so we can personalize your experience.",
		CallToAction: "Get started",
		Screen:       "personal_info",
		Data: map[string]interface{}{
			"full_name":   name,
			"min_date":    "1900-01-01",
			"max_date":    maxBirthDate(),
			"is_updating": false,
		},
	})
}

// SendUserSettingsFlow reopens the personal-info form prefilled for updates.
func (s *Sender) SendUserSettingsFlow(ctx context.Context, u user.User) error {
	token, err := s.tokens.Encode(flowtoken.Token{WAID: u.WAID, FlowID: s.flows.Onboarding})
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"full_name":   u.Name,
		"min_date":    "1900-01-01",
		"max_date":    maxBirthDate(),
		"is_updating": true,
		"region":      u.Region,
		"school_name": u.SchoolName,
	}
	if u.BirthDate != nil {
		data["birthday"] = u.BirthDate.Format("2006-01-02")
	}
	return s.client.SendFlow(ctx, messaging.FlowMessage{
		To:           u.WAID,
		FlowID:       s.flows.Onboarding,
		FlowToken:    token,
		Header:       "Your settings",
		Body:         "Review and update your personal information.",
		CallToAction: "Update",
		Screen:       "personal_info",
		Data:         data,
	})
}

// SendSelectSubjectFlow asks the user to pick the subjects they teach. When
// the catalogue is empty the user gets a text instead of an empty form.
func (s *Sender) SendSelectSubjectFlow(ctx context.Context, u user.User) error {
	subjects, err := s.subjects.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("list subjects: %w", err)
	}
	if len(subjects) == 0 {
		return s.client.SendText(ctx, u.WAID, "Sorry, there are no subjects available yet. Please check back later.")
	}

	token, err := s.tokens.Encode(flowtoken.Token{WAID: u.WAID, FlowID: s.flows.SelectSubjects})
	if err != nil {
		return err
	}
	return s.client.SendFlow(ctx, messaging.FlowMessage{
		To:           u.WAID,
		FlowID:       s.flows.SelectSubjects,
		FlowToken:    token,
		Header:       "Choose your subjects",
		Body:         "Select the subjects you teach so we can tailor the material.",
		CallToAction: "Choose subjects",
		Screen:       "select_subjects",
		Data: map[string]interface{}{
			"subjects":            formatSubjects(subjects),
			"has_subjects":        true,
			"select_subject_text": "Please select the subjects you teach.",
		},
	})
}

// SendSelectClassesFlow asks the user which classes they teach for a subject.
func (s *Sender) SendSelectClassesFlow(ctx context.Context, u user.User, subjectID int64, isUpdate bool) error {
	subject, classes, err := s.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("get subject %d: %w", subjectID, err)
	}

	token, err := s.tokens.Encode(flowtoken.Token{WAID: u.WAID, FlowID: s.flows.SelectClasses})
	if err != nil {
		return err
	}
	return s.client.SendFlow(ctx, messaging.FlowMessage{
		To:           u.WAID,
		FlowID:       s.flows.SelectClasses,
		FlowToken:    token,
		Header:       fmt.Sprintf("Classes for %s", subject.Name),
		Body:         "Select the classes you teach for this subject.",
		CallToAction: "Choose classes",
		Screen:       "select_classes",
		Data: map[string]interface{}{
			"subject_title": subject.Name,
			"subject_id":    strconv.FormatInt(subject.ID, 10),
			"classes":       formatClasses(classes),
			"is_updating":   isUpdate,
		},
	})
}

func formatSubjects(subjects []user.Subject) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(subjects))
	for _, subject := range subjects {
		out = append(out, map[string]interface{}{
			"id":    strconv.FormatInt(subject.ID, 10),
			"title": subject.Name,
		})
	}
	return out
}

func formatClasses(classes []user.Class) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(classes))
	for _, class := range classes {
		out = append(out, map[string]interface{}{
			"id":    strconv.FormatInt(class.ID, 10),
			"title": class.Name,
		})
	}
	return out
}
