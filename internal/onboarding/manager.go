package onboarding

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NextAction tells the caller what the flow needs before it can proceed.
const (
	NextActionManualCredentials = "manual_credentials"
	NextActionOAuthRedirect     = "oauth_redirect"
	NextActionComplete          = "complete"
)

// SyncKickoffJobType is published once onboarding completes so the job
// processors start the first full sync.
const SyncKickoffJobType = "pos-connector.sync.kickoff"

var ErrUnknownPOSType = errors.New("pos type has no registered vendor")

// Detector is the slice of the POS detector the manager consumes.
type Detector interface {
	DetectCandidates(ctx context.Context, creds domain.AuthCredentials) ([]domain.DetectionResult, error)
}

// Adapter is the slice of a vendor adapter the onboarding steps exercise.
type Adapter interface {
	TestConnection(ctx context.Context) error
	FetchLocations(ctx context.Context) ([]domain.Location, error)
	SetupWebhooks(ctx context.Context, callbackURL string) error
	SyncTransactions(ctx context.Context, lastSyncTime *time.Time) domain.SyncResult
}

// AdapterFactory builds an adapter for the draft configuration a session
// has accumulated.
type AdapterFactory func(config domain.AdapterConfiguration) (Adapter, error)

// ConfigurationSaver persists the finished AdapterConfiguration.
type ConfigurationSaver interface {
	Upsert(ctx context.Context, config *domain.AdapterConfiguration) error
}

// JobPublisher hands async work to the external queue service.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobType string, payload []byte, metadata map[string]string) error
}

// ManagerOptions collects the manager's collaborators and tunables.
type ManagerOptions struct {
	Store              SessionStore
	Detector           Detector
	Registry           *adapter.Registry
	AdapterFactory     AdapterFactory
	ConfigurationStore ConfigurationSaver
	JobPublisher       JobPublisher
	StateSigner        *StateSigner
	TokenExchanger     TokenExchanger
	SessionDuration    time.Duration
	WebhookCallbackURL string
}

// Manager drives the onboarding state machine. Sessions are independent:
// all mutable state lives in the session store, and a per-session
// optimistic version check stops a duplicate ContinueOnboarding call from
// double-advancing the flow.
type Manager struct {
	store              SessionStore
	detector           Detector
	registry           *adapter.Registry
	adapterFactory     AdapterFactory
	configurationStore ConfigurationSaver
	jobPublisher       JobPublisher
	stateSigner        *StateSigner
	tokenExchanger     TokenExchanger
	sessionDuration    time.Duration
	webhookCallbackURL string
	nowFunc            func() time.Time
}

func NewManager(options ManagerOptions) *Manager {
	sessionDuration := options.SessionDuration
	if sessionDuration <= 0 {
		sessionDuration = 30 * time.Minute
	}

	return &Manager{
		store:              options.Store,
		detector:           options.Detector,
		registry:           options.Registry,
		adapterFactory:     options.AdapterFactory,
		configurationStore: options.ConfigurationStore,
		jobPublisher:       options.JobPublisher,
		stateSigner:        options.StateSigner,
		tokenExchanger:     options.TokenExchanger,
		sessionDuration:    sessionDuration,
		webhookCallbackURL: options.WebhookCallbackURL,
		nowFunc:            time.Now,
	}
}

// ContinueData carries whatever the caller supplies to advance the flow:
// a credentials fragment, an OAuth callback code/state pair, or both.
type ContinueData struct {
	Credentials *domain.AuthCredentials `json:"credentials,omitempty"`
	OAuthCode   string                  `json:"oauth_code,omitempty"`
	OAuthState  string                  `json:"oauth_state,omitempty"`
	ShopDomain  string                  `json:"shop_domain,omitempty"`
}

// ContinueResult reports where the session landed and what the caller must
// do next.
type ContinueResult struct {
	Session    *OnboardingSession `json:"session"`
	NextAction string             `json:"next_action"`
	OAuthURL   string             `json:"oauth_url,omitempty"`
}

// StartOnboarding creates a session. A known posType skips detection;
// otherwise the caller is asked to supply credentials the detector can
// probe with.
func (m *Manager) StartOnboarding(ctx context.Context, businessID domain.BusinessID, posType domain.POSType, redirectURI string) (*ContinueResult, error) {

	now := m.nowFunc()

	session := &OnboardingSession{
		ID:              domain.SessionID(uuid.NewString()),
		BusinessID:      businessID,
		POSType:         posType,
		Status:          StatusInitiated,
		CredentialState: domain.Unauthenticated(),
		Progress: Progress{
			TotalSteps:  len(stepSequence),
			CurrentStep: StepDetectPOS,
		},
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.sessionDuration),
		Metadata:    map[string]string{},
	}
	session.State = StepDetectPOS

	nextAction := NextActionManualCredentials
	var oauthURL string

	if posType != "" {
		descriptor, err := m.registry.Get(posType)
		if err != nil {
			return nil, ErrUnknownPOSType
		}

		session.markStepCompleted(StepDetectPOS)
		session.Configuration = m.draftConfiguration(businessID, descriptor, domain.AuthCredentials{})
		session.Status = StatusAuthenticating

		if redirectURI != "" && descriptor.OAuth.AuthorizeURLTemplate != "" {
			session.CredentialState = domain.PendingOAuth(domain.AuthCredentials{})
			url, err := m.authorizeURL(session, descriptor)
			if err != nil {
				return nil, err
			}
			nextAction = NextActionOAuthRedirect
			oauthURL = url
		}
	}

	if err := m.store.Put(ctx, session, m.sessionDuration); err != nil {
		return nil, err
	}

	metrics.sessionStartedCounter.Inc()
	logger.Log.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"business_id": businessID,
		"pos_type":    posType,
		"next_action": nextAction,
	}).Info("Started onboarding session")

	return &ContinueResult{Session: session, NextAction: nextAction, OAuthURL: oauthURL}, nil
}

// ContinueOnboarding resumes a persisted session: it executes every step it
// can with the supplied data, persisting after each one, and stops when the
// flow completes, fails, or needs more input from the caller.
func (m *Manager) ContinueOnboarding(ctx context.Context, sessionID domain.SessionID, data ContinueData) (*ContinueResult, error) {

	session, err := m.loadLiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == StatusFailed {
		return nil, fmt.Errorf("onboarding session already failed: %s", session.Error)
	}
	if session.Status == StatusCompleted {
		return &ContinueResult{Session: session, NextAction: NextActionComplete}, nil
	}

	// Claim the session before executing anything. A concurrent call racing
	// on the same stored version loses here, before any step runs twice.
	if err := m.store.Put(ctx, session, m.remainingTTL(session)); err != nil {
		return nil, err
	}

	if data.ShopDomain != "" {
		m.absorbShopDomain(session, data.ShopDomain)
	}

	for {
		step := session.NextStep()
		if step == "" {
			return m.finishSession(ctx, session)
		}

		outcome, err := m.executeStep(ctx, session, step, &data)
		if err != nil {
			return m.failSession(ctx, session, step, err)
		}

		if outcome != nil {
			if persistErr := m.store.Put(ctx, session, m.remainingTTL(session)); persistErr != nil {
				return nil, persistErr
			}
			outcome.Session = session
			return outcome, nil
		}

		session.markStepCompleted(step)
		session.Status = statusForStep(session.NextStep())
		metrics.stepCompletedCounter.WithLabelValues(step).Inc()

		if err := m.store.Put(ctx, session, m.remainingTTL(session)); err != nil {
			return nil, err
		}
	}
}

// GenerateOAuthUrl builds a vendor authorize URL whose state parameter is a
// signed token embedding the session id.
func (m *Manager) GenerateOAuthUrl(ctx context.Context, sessionID domain.SessionID, posType domain.POSType, shopDomain string) (string, error) {

	session, err := m.loadLiveSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	descriptor, err := m.registry.Get(posType)
	if err != nil {
		return "", ErrUnknownPOSType
	}
	if descriptor.OAuth.AuthorizeURLTemplate == "" {
		return "", fmt.Errorf("vendor %s does not support oauth", posType)
	}

	if shopDomain != "" {
		m.absorbShopDomain(session, shopDomain)
	}
	session.POSType = posType

	url, err := m.authorizeURL(session, descriptor)
	if err != nil {
		return "", err
	}

	if err := m.store.Put(ctx, session, m.remainingTTL(session)); err != nil {
		return "", err
	}

	return url, nil
}

// CancelOnboarding marks the session failed and removes it. Any
// already-saved AdapterConfiguration is untouched.
func (m *Manager) CancelOnboarding(ctx context.Context, sessionID domain.SessionID) error {
	_, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}

	metrics.sessionFailedCounter.WithLabelValues("cancelled").Inc()
	logger.Log.WithFields(logrus.Fields{"session_id": sessionID}).Info("Cancelled onboarding session")
	return nil
}

func (m *Manager) GetSession(ctx context.Context, sessionID domain.SessionID) (*OnboardingSession, error) {
	return m.loadLiveSession(ctx, sessionID)
}

func (m *Manager) loadLiveSession(ctx context.Context, sessionID domain.SessionID) (*OnboardingSession, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A session past its expiry is treated as absent even if still stored.
	if session.IsExpired(m.nowFunc()) {
		m.store.Delete(ctx, sessionID)
		metrics.sessionFailedCounter.WithLabelValues("expired").Inc()
		return nil, ErrSessionExpired
	}

	return session, nil
}

func (m *Manager) remainingTTL(session *OnboardingSession) time.Duration {
	ttl := session.ExpiresAt.Sub(m.nowFunc())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// executeStep runs one step. A nil outcome with nil error means the step
// completed; a non-nil outcome means the caller must supply more input.
func (m *Manager) executeStep(ctx context.Context, session *OnboardingSession, step string, data *ContinueData) (*ContinueResult, error) {

	switch step {
	case StepDetectPOS:
		return m.stepDetectPOS(ctx, session, data)
	case StepAuthenticate:
		return m.stepAuthenticate(ctx, session, data)
	case StepTestConnection:
		return nil, m.withAdapter(session, func(a Adapter) error {
			return a.TestConnection(ctx)
		})
	case StepFetchLocations:
		return nil, m.stepFetchLocations(ctx, session)
	case StepSetupWebhooks:
		return nil, m.stepSetupWebhooks(ctx, session)
	case StepTestDataSync:
		return nil, m.stepTestDataSync(ctx, session)
	case StepSaveConfiguration:
		return nil, m.stepSaveConfiguration(ctx, session)
	default:
		return nil, fmt.Errorf("unknown onboarding step: %s", step)
	}
}

func (m *Manager) stepDetectPOS(ctx context.Context, session *OnboardingSession, data *ContinueData) (*ContinueResult, error) {

	creds := m.suppliedCredentials(session, data)
	if creds.IsEmpty() {
		return &ContinueResult{NextAction: NextActionManualCredentials}, nil
	}

	candidates, err := m.detector.DetectCandidates(ctx, creds)
	if err != nil {
		return nil, err
	}

	best := candidates[0]
	descriptor, err := m.registry.Get(best.POSType)
	if err != nil {
		return nil, ErrUnknownPOSType
	}

	session.DetectionResults = candidates
	session.POSType = best.POSType
	session.CredentialState = domain.PendingOAuth(creds)
	session.Configuration = m.draftConfiguration(session.BusinessID, descriptor, creds)

	logger.Log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"pos_type":   best.POSType,
		"confidence": best.Confidence,
	}).Info("Detected POS platform for onboarding session")

	return nil, nil
}

func (m *Manager) stepAuthenticate(ctx context.Context, session *OnboardingSession, data *ContinueData) (*ContinueResult, error) {

	if session.CredentialState.Phase == domain.PhaseAuthenticated {
		return nil, nil
	}

	descriptor, err := m.registry.Get(session.POSType)
	if err != nil {
		return nil, ErrUnknownPOSType
	}

	if data.OAuthCode != "" {
		creds, err := m.exchangeOAuthCode(ctx, session, descriptor, data)
		if err != nil {
			return nil, err
		}
		m.adoptCredentials(session, creds)
		return nil, nil
	}

	if creds := m.suppliedCredentials(session, data); !creds.IsEmpty() {
		m.adoptCredentials(session, creds)
		return nil, nil
	}

	if session.RedirectURI != "" && descriptor.OAuth.AuthorizeURLTemplate != "" {
		url, err := m.authorizeURL(session, descriptor)
		if err != nil {
			return nil, err
		}
		return &ContinueResult{NextAction: NextActionOAuthRedirect, OAuthURL: url}, nil
	}

	return &ContinueResult{NextAction: NextActionManualCredentials}, nil
}

// exchangeOAuthCode swaps the callback code for credentials. Vendor token
// endpoints are occasionally flaky, so one failure is retried automatically
// before surfacing to the operator.
func (m *Manager) exchangeOAuthCode(ctx context.Context, session *OnboardingSession, descriptor *adapter.VendorDescriptor, data *ContinueData) (domain.AuthCredentials, error) {

	if data.OAuthState != "" {
		stateSessionID, err := m.stateSigner.Verify(data.OAuthState)
		if err != nil {
			return domain.AuthCredentials{}, err
		}
		if stateSessionID != session.ID {
			return domain.AuthCredentials{}, ErrInvalidOAuthState
		}
	}

	partial := session.CredentialState.Partial

	creds, err := m.tokenExchanger.Exchange(ctx, descriptor, data.OAuthCode, partial)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"pos_type":   session.POSType,
			"error":      err,
		}).Warn("OAuth code exchange failed, retrying once")

		creds, err = m.tokenExchanger.Exchange(ctx, descriptor, data.OAuthCode, partial)
		if err != nil {
			return domain.AuthCredentials{}, err
		}
	}

	return creds, nil
}

func (m *Manager) stepFetchLocations(ctx context.Context, session *OnboardingSession) error {
	return m.withAdapter(session, func(a Adapter) error {
		locations, err := a.FetchLocations(ctx)
		if err != nil {
			return err
		}
		session.setMetadata("location_count", strconv.Itoa(len(locations)))
		return nil
	})
}

// stepSetupWebhooks registers the callback URL with the vendor. Inbound
// deliveries are authenticated by HMAC over the raw payload, so the
// configuration gets its per-tenant secret here, before the callback can
// ever fire.
func (m *Manager) stepSetupWebhooks(ctx context.Context, session *OnboardingSession) error {
	if session.Configuration != nil && session.Configuration.WebhookSecret == "" {
		secret, err := newWebhookSecret()
		if err != nil {
			return err
		}
		session.Configuration.WebhookSecret = secret
	}

	return m.withAdapter(session, func(a Adapter) error {
		return a.SetupWebhooks(ctx, m.callbackURL(session))
	})
}

func newWebhookSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (m *Manager) stepTestDataSync(ctx context.Context, session *OnboardingSession) error {
	return m.withAdapter(session, func(a Adapter) error {
		result := a.SyncTransactions(ctx, nil)
		if !result.Success {
			if len(result.Errors) > 0 {
				return fmt.Errorf("test sync failed: %s", result.Errors[0])
			}
			return errors.New("test sync failed")
		}
		session.setMetadata("test_sync_records", strconv.Itoa(result.RecordsProcessed))
		return nil
	})
}

func (m *Manager) stepSaveConfiguration(ctx context.Context, session *OnboardingSession) error {
	config := session.Configuration
	config.Enabled = true
	config.UpdatedAt = m.nowFunc()

	return m.configurationStore.Upsert(ctx, config)
}

// finishSession marks the session completed and removes it from the store:
// a finished flow must not linger holding credentials. The returned
// snapshot is the caller's record of the outcome.
func (m *Manager) finishSession(ctx context.Context, session *OnboardingSession) (*ContinueResult, error) {
	session.Status = StatusCompleted
	session.State = "completed"

	if err := m.publishSyncKickoff(ctx, session); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Error("Unable to publish sync kickoff job")
	}

	if err := m.store.Delete(ctx, session.ID); err != nil {
		logger.Log.WithFields(logrus.Fields{"session_id": session.ID, "error": err}).Error("Unable to remove completed session")
	}

	metrics.sessionCompletedCounter.Inc()
	logger.Log.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"business_id": session.BusinessID,
		"pos_type":    session.POSType,
	}).Info("Onboarding session completed")

	return &ContinueResult{Session: session, NextAction: NextActionComplete}, nil
}

func (m *Manager) failSession(ctx context.Context, session *OnboardingSession, step string, cause error) (*ContinueResult, error) {
	session.Status = StatusFailed
	session.Error = cause.Error()

	if err := m.store.Put(ctx, session, m.remainingTTL(session)); err != nil {
		logger.Log.WithFields(logrus.Fields{"session_id": session.ID, "error": err}).Error("Unable to persist failed session")
	}

	metrics.sessionFailedCounter.WithLabelValues(step).Inc()
	logger.Log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"step":       step,
		"error":      cause,
	}).Warn("Onboarding step failed")

	return nil, fmt.Errorf("onboarding step %s failed: %w", step, cause)
}

func (m *Manager) publishSyncKickoff(ctx context.Context, session *OnboardingSession) error {
	if m.jobPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"adapter_id":  session.Configuration.ID,
		"business_id": session.BusinessID.String(),
		"pos_type":    session.POSType.String(),
	})
	if err != nil {
		return err
	}

	return m.jobPublisher.PublishJob(ctx, SyncKickoffJobType, payload, map[string]string{
		"session_id": session.ID.String(),
	})
}

func (m *Manager) withAdapter(session *OnboardingSession, fn func(Adapter) error) error {
	if session.Configuration == nil {
		return errors.New("session has no draft configuration")
	}

	instance, err := m.adapterFactory(*session.Configuration)
	if err != nil {
		return err
	}

	return fn(instance)
}

func (m *Manager) draftConfiguration(businessID domain.BusinessID, descriptor *adapter.VendorDescriptor, creds domain.AuthCredentials) *domain.AdapterConfiguration {
	now := m.nowFunc()
	return &domain.AdapterConfiguration{
		ID:          uuid.NewString(),
		BusinessID:  businessID,
		POSType:     descriptor.POSType,
		Name:        descriptor.DisplayName,
		Enabled:     false,
		Credentials: creds,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (m *Manager) authorizeURL(session *OnboardingSession, descriptor *adapter.VendorDescriptor) (string, error) {
	state, err := m.stateSigner.Sign(session.ID, session.ExpiresAt)
	if err != nil {
		return "", err
	}
	return BuildAuthorizeURL(descriptor, session.CredentialState.Partial, session.RedirectURI, state), nil
}

func (m *Manager) callbackURL(session *OnboardingSession) string {
	return fmt.Sprintf("%s/%s/%s", m.webhookCallbackURL, session.POSType, session.BusinessID)
}

func (m *Manager) suppliedCredentials(session *OnboardingSession, data *ContinueData) domain.AuthCredentials {
	creds := session.CredentialState.Partial
	if session.CredentialState.Phase == domain.PhaseAuthenticated {
		creds = session.CredentialState.Credentials
	}
	if data.Credentials != nil {
		creds = mergeCredentials(creds, *data.Credentials)
	}
	return creds
}

func (m *Manager) adoptCredentials(session *OnboardingSession, creds domain.AuthCredentials) {
	session.CredentialState = domain.Authenticated(creds)
	if session.Configuration != nil {
		session.Configuration.Credentials = creds
	}
}

func (m *Manager) absorbShopDomain(session *OnboardingSession, shopDomain string) {
	switch session.CredentialState.Phase {
	case domain.PhaseAuthenticated:
		creds := session.CredentialState.Credentials
		creds.ShopDomain = shopDomain
		session.CredentialState = domain.Authenticated(creds)
	default:
		partial := session.CredentialState.Partial
		partial.ShopDomain = shopDomain
		session.CredentialState = domain.PendingOAuth(partial)
	}
	if session.Configuration != nil {
		session.Configuration.Credentials.ShopDomain = shopDomain
	}
}

func mergeCredentials(base domain.AuthCredentials, supplied domain.AuthCredentials) domain.AuthCredentials {
	merged := base
	if supplied.APIKey != "" {
		merged.APIKey = supplied.APIKey
	}
	if supplied.APISecret != "" {
		merged.APISecret = supplied.APISecret
	}
	if supplied.AccessToken != "" {
		merged.AccessToken = supplied.AccessToken
	}
	if supplied.RefreshToken != "" {
		merged.RefreshToken = supplied.RefreshToken
	}
	if supplied.MerchantID != "" {
		merged.MerchantID = supplied.MerchantID
	}
	if supplied.ShopDomain != "" {
		merged.ShopDomain = supplied.ShopDomain
	}
	return merged
}

// statusForStep maps the next pending step onto the coarse session phase.
func statusForStep(nextStep string) SessionStatus {
	switch nextStep {
	case StepDetectPOS:
		return StatusInitiated
	case StepAuthenticate:
		return StatusAuthenticating
	case StepTestConnection, StepFetchLocations, StepSetupWebhooks:
		return StatusConfiguring
	case StepTestDataSync, StepSaveConfiguration:
		return StatusTesting
	default:
		return StatusCompleted
	}
}
