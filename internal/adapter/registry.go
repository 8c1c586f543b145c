package adapter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
)

type DuplicateVendorError struct {
	POSType domain.POSType
}

func (d DuplicateVendorError) Error() string {
	return fmt.Sprintf("vendor %s is already registered", d.POSType)
}

var ErrUnknownVendor = errors.New("unknown vendor")

// AuthHeaderBuilder produces the auth header for a vendor call from the
// tenant's credentials.
type AuthHeaderBuilder func(domain.AuthCredentials) (name string, value string)

// OAuthEndpoints describes how to build a vendor's authorize URL and where
// to exchange the resulting code.
type OAuthEndpoints struct {
	AuthorizeURLTemplate string
	TokenURL             string
	Scopes               []string
}

// VendorDescriptor is the static description of one POS platform: the
// fingerprint used for detection plus the endpoints and builders every
// adapter instance for that platform shares. Validated once at
// registration so call sites never re-check it.
type VendorDescriptor struct {
	POSType             domain.POSType
	DisplayName         string
	BaseURLTemplate     string
	ProbeEndpoints      []string
	SignatureHeader     string
	AuthHeaderBuilder   AuthHeaderBuilder
	RequiredCredentials []string
	SupportedFeatures   []string
	OAuth               OAuthEndpoints
	WebhookSecretHeader string
}

func (vd *VendorDescriptor) validate() error {
	switch {
	case vd.POSType == "":
		return errors.New("vendor descriptor is missing a pos type")
	case vd.BaseURLTemplate == "":
		return errors.New("vendor descriptor is missing a base url template")
	case len(vd.ProbeEndpoints) == 0:
		return errors.New("vendor descriptor has no probe endpoints")
	case vd.SignatureHeader == "":
		return errors.New("vendor descriptor is missing a signature header")
	case vd.AuthHeaderBuilder == nil:
		return errors.New("vendor descriptor is missing an auth header builder")
	}
	return nil
}

// BaseURL substitutes credential-derived placeholders ({shop_domain},
// {merchant_id}) into the vendor's base URL template.
func (vd *VendorDescriptor) BaseURL(creds domain.AuthCredentials) string {
	url := vd.BaseURLTemplate
	url = strings.ReplaceAll(url, "{shop_domain}", creds.ShopDomain)
	url = strings.ReplaceAll(url, "{merchant_id}", creds.MerchantID)
	return url
}

// Registry holds the known vendor descriptors in registration order.
// Registration order is the detection tie-breaker, so it must be stable.
type Registry struct {
	mutex       sync.RWMutex
	descriptors map[domain.POSType]*VendorDescriptor
	order       []domain.POSType
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[domain.POSType]*VendorDescriptor),
	}
}

func (r *Registry) Register(descriptor *VendorDescriptor) error {
	if err := descriptor.validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.descriptors[descriptor.POSType]; exists {
		return DuplicateVendorError{POSType: descriptor.POSType}
	}

	r.descriptors[descriptor.POSType] = descriptor
	r.order = append(r.order, descriptor.POSType)

	logger.Log.Info("Registered POS vendor: ", descriptor.POSType)
	return nil
}

func (r *Registry) Get(posType domain.POSType) (*VendorDescriptor, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	descriptor, exists := r.descriptors[posType]
	if !exists {
		return nil, ErrUnknownVendor
	}
	return descriptor, nil
}

// All returns descriptors in registration order.
func (r *Registry) All() []*VendorDescriptor {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	descriptors := make([]*VendorDescriptor, 0, len(r.order))
	for _, posType := range r.order {
		descriptors = append(descriptors, r.descriptors[posType])
	}
	return descriptors
}
