package flows

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
)

// INIT handlers serve the design-time path: the platform asks for a flow's
// first screen while the flow is still being built. They only read state.

// NewOnboardingInitHandler returns the personal-info first screen prefilled
// with whatever we already know about the user.
func NewOnboardingInitHandler() FormHandler {
	return FormHandlerFunc(func(_ context.Context, u user.User, _ flow.Payload) (flow.Response, error) {
		return flow.Response{
			Screen: "personal_info",
			Data:   map[string]interface{}{"full_name": u.Name},
		}, nil
	})
}

// NewSubjectsInitHandler builds the subject picker from the catalogue.
func NewSubjectsInitHandler(subjects storage.SubjectStore) FormHandler {
	return FormHandlerFunc(func(ctx context.Context, _ user.User, _ flow.Payload) (flow.Response, error) {
		available, err := subjects.ListSubjects(ctx)
		if err != nil {
			return flow.Response{}, fmt.Errorf("list subjects: %w", err)
		}
		return flow.Response{
			Screen: "select_subjects",
			Data: map[string]interface{}{
				"subjects":            formatSubjects(available),
				"has_subjects":        len(available) > 0,
				"no_subjects_text":    "Sorry, there are no available subjects.",
				"select_subject_text": "Please select the subjects you teach.",
			},
		}, nil
	})
}

// NewClassesInitHandler builds the class picker. The subject comes from the
// request data when present, otherwise the first catalogue entry is shown.
func NewClassesInitHandler(subjects storage.SubjectStore) FormHandler {
	return FormHandlerFunc(func(ctx context.Context, _ user.User, payload flow.Payload) (flow.Response, error) {
		subjectID, err := int64Value(payload.Data["subject_id"])
		if err != nil {
			available, listErr := subjects.ListSubjects(ctx)
			if listErr != nil {
				return flow.Response{}, fmt.Errorf("list subjects: %w", listErr)
			}
			if len(available) == 0 {
				return flow.Response{}, fmt.Errorf("%w: no subjects available", ErrInvalidHandlerData)
			}
			subjectID = available[0].ID
		}

		subject, classes, err := subjects.GetSubject(ctx, subjectID)
		if err != nil {
			return flow.Response{}, fmt.Errorf("get subject %d: %w", subjectID, err)
		}
		return flow.Response{
			Screen: "select_classes",
			Data: map[string]interface{}{
				"subject_title": subject.Name,
				"subject_id":    strconv.FormatInt(subject.ID, 10),
				"classes":       formatClasses(classes),
			},
		}, nil
	})
}
