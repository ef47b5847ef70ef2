// Package quota defines the keys, ceilings and decisions used by admission
// control. Counters live in an external store; this package only names them.
package quota

import "time"

// Scope selects whose counter a key addresses.
type Scope string

const (
	ScopeUser Scope = "user"
	ScopeApp  Scope = "app"
)

// Metric selects which usage dimension a key counts.
type Metric string

const (
	MetricMessages Metric = "messages"
	MetricTokens   Metric = "tokens"
)

// expiryGrace keeps expired keys readable slightly past midnight so a burst
// straddling the day boundary cannot observe a half-reset snapshot.
const expiryGrace = time.Hour

// Key addresses one daily counter in the shared store. Identity is empty for
// app-scoped keys.
type Key struct {
	Scope    Scope
	Metric   Metric
	Identity string
	Day      string // UTC calendar day, YYYY-MM-DD
}

// Day renders the UTC calendar day used in counter keys.
func Day(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// UserKey builds a per-user counter key for the given day.
func UserKey(identity string, metric Metric, day string) Key {
	return Key{Scope: ScopeUser, Metric: metric, Identity: identity, Day: day}
}

// AppKey builds an application-wide counter key for the given day.
func AppKey(metric Metric, day string) Key {
	return Key{Scope: ScopeApp, Metric: metric, Day: day}
}

// String renders the namespaced store key.
func (k Key) String() string {
	if k.Scope == ScopeUser {
		return "rate_limit:user:" + k.Identity + ":" + string(k.Metric) + ":" + k.Day
	}
	return "rate_limit:app:" + string(k.Metric) + ":" + k.Day
}

// TTL returns the remaining lifetime of the key's day, set once at first
// increment and never extended.
func (k Key) TTL(now time.Time) time.Duration {
	day, err := time.ParseInLocation("2006-01-02", k.Day, time.UTC)
	if err != nil {
		return expiryGrace
	}
	return day.Add(24*time.Hour + expiryGrace).Sub(now.UTC())
}

// Ceilings holds the configured daily maxima.
type Ceilings struct {
	UserDailyMessages int64
	AppDailyMessages  int64
	UserDailyTokens   int64
	AppDailyTokens    int64
}

// Snapshot is a read of all four counters for one user and day.
type Snapshot struct {
	UserMessages int64
	AppMessages  int64
	UserTokens   int64
	AppTokens    int64
}

// Reason names the first ceiling a deflected request tripped.
type Reason string

const (
	ReasonUserMessageLimit   Reason = "user_message_limit"
	ReasonGlobalMessageLimit Reason = "global_message_limit"
	ReasonUserTokenLimit     Reason = "user_token_limit"
	ReasonGlobalTokenLimit   Reason = "global_token_limit"
)

// Decision is the outcome of one admission check. Deflection is a normal
// terminal outcome, not an error.
type Decision struct {
	Admit  bool
	Reason Reason
}
