package onboarding

import (
	"errors"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("onboarding session not found")
	ErrSessionExpired  = errors.New("onboarding session expired")
	// ErrSessionConflict means another writer persisted the session first.
	// The losing caller retries with a fresh read; the step it raced on was
	// not double-executed.
	ErrSessionConflict = errors.New("onboarding session was modified concurrently")
)

type SessionStatus string

const (
	StatusInitiated      SessionStatus = "initiated"
	StatusAuthenticating SessionStatus = "authenticating"
	StatusConfiguring    SessionStatus = "configuring"
	StatusTesting        SessionStatus = "testing"
	StatusCompleted      SessionStatus = "completed"
	StatusFailed         SessionStatus = "failed"
)

// Step names, in execution order.
const (
	StepDetectPOS         = "detect_pos"
	StepAuthenticate      = "authenticate"
	StepTestConnection    = "test_connection"
	StepFetchLocations    = "fetch_locations"
	StepSetupWebhooks     = "setup_webhooks"
	StepTestDataSync      = "test_data_sync"
	StepSaveConfiguration = "save_configuration"
)

var stepSequence = []string{
	StepDetectPOS,
	StepAuthenticate,
	StepTestConnection,
	StepFetchLocations,
	StepSetupWebhooks,
	StepTestDataSync,
	StepSaveConfiguration,
}

// Progress tracks where a session is in the step sequence. Step counts
// completed steps, so Step == TotalSteps means the flow finished.
type Progress struct {
	Step           int      `json:"step"`
	TotalSteps     int      `json:"total_steps"`
	CurrentStep    string   `json:"current_step"`
	CompletedSteps []string `json:"completed_steps"`
}

// OnboardingSession is the persisted state of one connect-a-POS flow. It is
// owned exclusively by the Manager and mutated only through its step
// functions; everything here must survive a process restart.
type OnboardingSession struct {
	ID               domain.SessionID             `json:"id"`
	BusinessID       domain.BusinessID            `json:"business_id"`
	POSType          domain.POSType               `json:"pos_type,omitempty"`
	State            string                       `json:"state"`
	Status           SessionStatus                `json:"status"`
	CredentialState  domain.CredentialState       `json:"credential_state"`
	DetectionResults []domain.DetectionResult     `json:"detection_results,omitempty"`
	Configuration    *domain.AdapterConfiguration `json:"configuration,omitempty"`
	Progress         Progress                     `json:"progress"`
	Error            string                       `json:"error,omitempty"`
	RedirectURI      string                       `json:"redirect_uri,omitempty"`
	CreatedAt        time.Time                    `json:"created_at"`
	ExpiresAt        time.Time                    `json:"expires_at"`
	Version          int64                        `json:"version"`
	Metadata         map[string]string            `json:"metadata"`
}

// IsExpired reports whether the session must be treated as absent even if
// it is still physically stored.
func (s *OnboardingSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NextStep returns the next pending step name, or "" once every step has
// completed.
func (s *OnboardingSession) NextStep() string {
	if s.Progress.Step >= len(stepSequence) {
		return ""
	}
	return stepSequence[s.Progress.Step]
}

// setMetadata records a step outcome. The map can come back nil from a
// store round trip, so writes go through here.
func (s *OnboardingSession) setMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}

func (s *OnboardingSession) markStepCompleted(step string) {
	s.Progress.Step++
	s.Progress.CompletedSteps = append(s.Progress.CompletedSteps, step)
	s.Progress.CurrentStep = s.NextStep()
	s.State = s.Progress.CurrentStep
}
