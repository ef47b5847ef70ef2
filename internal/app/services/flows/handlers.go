package flows

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// successResponse acknowledges a completed exchange; the real work continues
// in the background so the webhook answers within the platform's deadline.
func successResponse() flow.Response {
	return flow.Response{Screen: "SUCCESS", Data: map[string]interface{}{}}
}

// OnboardingHandler processes the personal-info form for both first-time
// onboarding and later settings updates.
type OnboardingHandler struct {
	users  storage.UserStore
	sender *Sender
	tasks  *TaskRunner
	log    *logger.Logger
}

// NewOnboardingHandler constructs the handler.
func NewOnboardingHandler(users storage.UserStore, sender *Sender, tasks *TaskRunner, log *logger.Logger) *OnboardingHandler {
	if log == nil {
		log = logger.NewDefault("flow-onboarding")
	}
	return &OnboardingHandler{users: users, sender: sender, tasks: tasks, log: log}
}

func (h *OnboardingHandler) Handle(ctx context.Context, u user.User, payload flow.Payload) (flow.Response, error) {
	data := payload.Data
	isUpdate, _ := data["is_updating"].(bool)

	h.tasks.Go("onboarding-update", u.WAID, func(ctx context.Context) error {
		return h.applyPersonalInfo(ctx, u, data, isUpdate)
	})
	return successResponse(), nil
}

func (h *OnboardingHandler) applyPersonalInfo(ctx context.Context, u user.User, data map[string]interface{}, isUpdate bool) error {
	fullName := stringField(data, "full_name", "update_full_name", isUpdate)
	birthday := stringField(data, "birthday", "update_birthday", isUpdate)
	region := stringField(data, "region", "update_region", isUpdate)
	school := stringField(data, "school_name", "update_school_name", isUpdate)

	if fullName != "" {
		u.Name = fullName
	}
	if birthday != "" {
		parsed, err := time.Parse("2006-01-02", birthday)
		if err != nil {
			return fmt.Errorf("parse birthday %q: %w", birthday, err)
		}
		u.BirthDate = &parsed
	}
	u.Region = region
	u.SchoolName = school
	u.Onboarding = user.OnboardingPersonalInfoSubmitted

	updated, err := h.users.UpdateUser(ctx, u)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	h.log.WithField("wa_id", updated.WAID).Info("personal info saved")

	// First-time onboarding continues straight into subject selection.
	if !isUpdate {
		if err := h.sender.SendSelectSubjectFlow(ctx, updated); err != nil {
			return fmt.Errorf("send select subject flow: %w", err)
		}
	}
	return nil
}

// stringField reads the plain or update_-prefixed variant of a form field.
func stringField(data map[string]interface{}, key, updateKey string, isUpdate bool) string {
	if isUpdate {
		if v, ok := data[updateKey].(string); ok {
			return v
		}
		return ""
	}
	v, _ := data[key].(string)
	return v
}

// SubjectsHandler processes the subject-selection form and fans out one
// class-selection flow per chosen subject.
type SubjectsHandler struct {
	sender *Sender
	tasks  *TaskRunner
	log    *logger.Logger
}

// NewSubjectsHandler constructs the handler.
func NewSubjectsHandler(sender *Sender, tasks *TaskRunner, log *logger.Logger) *SubjectsHandler {
	if log == nil {
		log = logger.NewDefault("flow-subjects")
	}
	return &SubjectsHandler{sender: sender, tasks: tasks, log: log}
}

func (h *SubjectsHandler) Handle(ctx context.Context, u user.User, payload flow.Payload) (flow.Response, error) {
	selected, err := int64Slice(payload.Data["selected_subjects"])
	if err != nil {
		return flow.Response{}, fmt.Errorf("%w: selected_subjects: %v", ErrInvalidHandlerData, err)
	}
	if len(selected) == 0 {
		return flow.Response{}, fmt.Errorf("%w: no subjects selected", ErrInvalidHandlerData)
	}

	h.tasks.Go("subject-selection", u.WAID, func(ctx context.Context) error {
		for _, subjectID := range selected {
			if err := h.sender.SendSelectClassesFlow(ctx, u, subjectID, false); err != nil {
				return err
			}
		}
		return nil
	})
	return successResponse(), nil
}

// ClassesHandler records the classes a user teaches for one subject.
type ClassesHandler struct {
	subjects storage.SubjectStore
	tasks    *TaskRunner
	notify   Notifier
	log      *logger.Logger
}

// NewClassesHandler constructs the handler.
func NewClassesHandler(subjects storage.SubjectStore, tasks *TaskRunner, notify Notifier, log *logger.Logger) *ClassesHandler {
	if log == nil {
		log = logger.NewDefault("flow-classes")
	}
	return &ClassesHandler{subjects: subjects, tasks: tasks, notify: notify, log: log}
}

func (h *ClassesHandler) Handle(ctx context.Context, u user.User, payload flow.Payload) (flow.Response, error) {
	selected, err := int64Slice(payload.Data["selected_classes"])
	if err != nil {
		return flow.Response{}, fmt.Errorf("%w: selected_classes: %v", ErrInvalidHandlerData, err)
	}
	if len(selected) == 0 {
		return flow.Response{}, fmt.Errorf("%w: no classes selected", ErrInvalidHandlerData)
	}
	subjectID, err := int64Value(payload.Data["subject_id"])
	if err != nil {
		return flow.Response{}, fmt.Errorf("%w: subject_id: %v", ErrInvalidHandlerData, err)
	}

	h.tasks.Go("class-selection", u.WAID, func(ctx context.Context) error {
		if err := h.subjects.SetUserClasses(ctx, u.ID, subjectID, selected); err != nil {
			return fmt.Errorf("save classes: %w", err)
		}
		if h.notify != nil {
			if err := h.notify.SendText(ctx, u.WAID,
				"Thanks for submitting your subject and class information. How can I help you today?"); err != nil {
				h.log.WithError(err).WithField("wa_id", u.WAID).Warn("send confirmation failed")
			}
		}
		return nil
	})
	return successResponse(), nil
}

// int64Value accepts the number encodings form payloads actually arrive in:
// JSON numbers and decimal strings.
func int64Value(v interface{}) (int64, error) {
	switch value := v.(type) {
	case string:
		return strconv.ParseInt(value, 10, 64)
	case float64:
		return int64(value), nil
	case int64:
		return value, nil
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}

func int64Slice(v interface{}) ([]int64, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		id, err := int64Value(item)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
