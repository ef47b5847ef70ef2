package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/storage/memory"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	texts []string
}

func (n *recordingNotifier) SendText(_ context.Context, to, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to)
	n.texts = append(n.texts, body)
	return nil
}

func testCeilings() quota.Ceilings {
	return quota.Ceilings{
		UserDailyMessages: 10,
		AppDailyMessages:  1000,
		UserDailyTokens:   50000,
		AppDailyTokens:    500000,
	}
}

func TestAdmitWithinCeilings(t *testing.T) {
	store := memory.New()
	svc := New(store, store, &recordingNotifier{}, testCeilings(), nil)

	decision, err := svc.Admit(context.Background(), "255700000001")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !decision.Admit {
		t.Fatalf("expected admit, got deflect %q", decision.Reason)
	}

	snap, err := svc.Usage(context.Background(), "255700000001")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if snap.UserMessages != 1 || snap.AppMessages != 1 {
		t.Fatalf("counters not charged: %+v", snap)
	}
}

func TestUserCeilingPrecedesAppCeiling(t *testing.T) {
	store := memory.New()
	notifier := &recordingNotifier{}
	ceilings := testCeilings()
	ceilings.UserDailyMessages = 1
	ceilings.AppDailyMessages = 1000
	svc := New(store, store, notifier, ceilings, nil)

	first, err := svc.Admit(context.Background(), "255700000001")
	if err != nil || !first.Admit {
		t.Fatalf("first message must be admitted: %+v %v", first, err)
	}

	second, err := svc.Admit(context.Background(), "255700000001")
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if second.Admit {
		t.Fatal("second message must be deflected")
	}
	if second.Reason != quota.ReasonUserMessageLimit {
		t.Fatalf("expected user_message_limit, got %q", second.Reason)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "255700000001" {
		t.Fatalf("deflection must message the user: %v", notifier.sent)
	}
}

func TestAppCeilingReason(t *testing.T) {
	store := memory.New()
	ceilings := testCeilings()
	ceilings.UserDailyMessages = 100
	ceilings.AppDailyMessages = 1
	svc := New(store, store, &recordingNotifier{}, ceilings, nil)

	if d, _ := svc.Admit(context.Background(), "a"); !d.Admit {
		t.Fatal("first message must be admitted")
	}
	d, err := svc.Admit(context.Background(), "b")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.Admit || d.Reason != quota.ReasonGlobalMessageLimit {
		t.Fatalf("expected global_message_limit, got %+v", d)
	}
}

func TestTokenCeilingsAreReadOnlyInAdmit(t *testing.T) {
	store := memory.New()
	svc := New(store, store, &recordingNotifier{}, testCeilings(), nil)

	// Charge tokens past the user ceiling the way the reply layer would.
	if err := svc.RecordTokenUsage(context.Background(), "255700000001", 50001); err != nil {
		t.Fatalf("record token usage: %v", err)
	}

	d, err := svc.Admit(context.Background(), "255700000001")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.Admit || d.Reason != quota.ReasonUserTokenLimit {
		t.Fatalf("expected user_token_limit, got %+v", d)
	}

	// Admit must not have charged token counters, only message counters.
	snap, _ := svc.Usage(context.Background(), "255700000001")
	if snap.UserTokens != 50001 {
		t.Fatalf("admission must not touch token counters: %+v", snap)
	}
	if snap.UserMessages != 1 {
		t.Fatalf("deflected request must still consume message quota: %+v", snap)
	}
}

func TestConcurrentBurstExactCounts(t *testing.T) {
	store := memory.New()
	ceiling := int64(10)
	burst := 50
	ceilings := testCeilings()
	ceilings.UserDailyMessages = ceiling
	svc := New(store, store, &recordingNotifier{}, ceilings, nil)

	var admitted, deflected int64
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.Admit(context.Background(), "255700000001")
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if d.Admit {
				atomic.AddInt64(&admitted, 1)
			} else {
				atomic.AddInt64(&deflected, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != ceiling {
		t.Fatalf("exactly the first %d must be admitted, got %d", ceiling, admitted)
	}
	if deflected != int64(burst)-ceiling {
		t.Fatalf("expected %d deflections, got %d", int64(burst)-ceiling, deflected)
	}

	// No lost increments: the stored counter equals the attempt count.
	day := quota.Day(time.Now())
	stored, err := store.Get(context.Background(), quota.UserKey("255700000001", quota.MetricMessages, day))
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if stored != int64(burst) {
		t.Fatalf("counter must equal attempts: got %d want %d", stored, burst)
	}
}

func TestCountersResetAcrossDays(t *testing.T) {
	store := memory.New()
	ceilings := testCeilings()
	ceilings.UserDailyMessages = 1
	svc := New(store, store, &recordingNotifier{}, ceilings, nil)

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })
	store.SetNow(func() time.Time { return base })

	if d, _ := svc.Admit(context.Background(), "u"); !d.Admit {
		t.Fatal("first message of the day must be admitted")
	}
	if d, _ := svc.Admit(context.Background(), "u"); d.Admit {
		t.Fatal("second message of the day must be deflected")
	}

	// Next day: expired keys read as zero, no explicit reset required.
	next := base.Add(24 * time.Hour)
	svc.SetNow(func() time.Time { return next })
	store.SetNow(func() time.Time { return next })

	if d, _ := svc.Admit(context.Background(), "u"); !d.Admit {
		t.Fatal("quota must reset with the calendar day")
	}
}
