// Package app assembles the gateway's services into one runnable unit.
package app

import (
	"fmt"

	"github.com/shule-ai/tutor-gateway/internal/app/crypto"
	"github.com/shule-ai/tutor-gateway/internal/app/httpapi"
	"github.com/shule-ai/tutor-gateway/internal/app/services/admission"
	"github.com/shule-ai/tutor-gateway/internal/app/services/flows"
	"github.com/shule-ai/tutor-gateway/internal/app/services/flowtoken"
	"github.com/shule-ai/tutor-gateway/internal/app/services/messaging"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
	"github.com/shule-ai/tutor-gateway/internal/app/storage/memory"
	"github.com/shule-ai/tutor-gateway/internal/config"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// Stores groups the persistence backends. Nil fields fall back to the
// in-memory store, which is what tests and local runs use.
type Stores struct {
	Counters storage.CounterStore
	Users    storage.UserStore
	Subjects storage.SubjectStore
}

func (s Stores) withDefaults() Stores {
	var mem *memory.Store
	ensure := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Counters == nil {
		s.Counters = ensure()
	}
	if s.Users == nil {
		s.Users = ensure()
	}
	if s.Subjects == nil {
		s.Subjects = ensure()
	}
	return s
}

// Application owns the wired services and the HTTP handler.
type Application struct {
	Handler   *httpapi.Handler
	Flows     *flows.Service
	Admission *admission.Service
	Sender    *flows.Sender
	Messenger *messaging.Client

	tasks *flows.TaskRunner
	log   *logger.Logger
}

// New wires the full gateway from configuration and storage backends.
// processor may be nil when no downstream message consumer is attached.
func New(cfg config.Config, stores Stores, processor httpapi.MessageProcessor, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores = stores.withDefaults()

	privateKey, err := cfg.Flows.RSAPrivateKey()
	if err != nil {
		return nil, err
	}
	decryptor, err := crypto.NewEnvelopeDecryptor(privateKey)
	if err != nil {
		return nil, err
	}
	tokens, err := flowtoken.NewCodec([]byte(cfg.Flows.AppSecret))
	if err != nil {
		return nil, err
	}

	messenger, err := messaging.NewClient(messaging.Config{
		BaseURL:       cfg.WhatsApp.BaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIToken:      cfg.WhatsApp.APIToken,
		SendsPerSec:   cfg.WhatsApp.SendsPerSec,
	}, log.WithField("component", "messaging"))
	if err != nil {
		return nil, fmt.Errorf("messaging client: %w", err)
	}

	flowIDs := flows.FlowIDs{
		Onboarding:     cfg.Flows.OnboardingID,
		SelectSubjects: cfg.Flows.SelectSubjectsID,
		SelectClasses:  cfg.Flows.SelectClassesID,
	}
	tasks := flows.NewTaskRunner(messenger, log.WithField("component", "tasks"))
	sender := flows.NewSender(messenger, tokens, stores.Subjects, flowIDs, log.WithField("component", "sender"))

	dispatcher := flows.NewDispatcher(log.WithField("component", "dispatcher"))
	dispatcher.RegisterDataExchange(flowIDs.Onboarding, flows.NewOnboardingHandler(stores.Users, sender, tasks, nil))
	dispatcher.RegisterDataExchange(flowIDs.SelectSubjects, flows.NewSubjectsHandler(sender, tasks, nil))
	dispatcher.RegisterDataExchange(flowIDs.SelectClasses, flows.NewClassesHandler(stores.Subjects, tasks, messenger, nil))
	dispatcher.RegisterInit(flowIDs.Onboarding, flows.NewOnboardingInitHandler())
	dispatcher.RegisterInit(flowIDs.SelectSubjects, flows.NewSubjectsInitHandler(stores.Subjects))
	dispatcher.RegisterInit(flowIDs.SelectClasses, flows.NewClassesInitHandler(stores.Subjects))

	flowSvc := flows.New(decryptor, tokens, dispatcher, stores.Users, log.WithField("component", "flows"))
	admissionSvc := admission.New(stores.Counters, stores.Users, messenger, cfg.Quota.Ceilings(), log.WithField("component", "admission"))

	handler := httpapi.New(flowSvc, admissionSvc, processor, tasks, cfg.WhatsApp.VerifyToken, log.WithField("component", "httpapi"))

	return &Application{
		Handler:   handler,
		Flows:     flowSvc,
		Admission: admissionSvc,
		Sender:    sender,
		Messenger: messenger,
		tasks:     tasks,
		log:       log,
	}, nil
}

// Shutdown waits for in-flight background tasks to drain.
func (a *Application) Shutdown() {
	a.log.Info("draining background tasks")
	a.tasks.Wait()
}
