package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pinkybot/tiergate/pkg/licensing"
)

// Credentials are the stored identifiers that feed the checkers.
type Credentials struct {
	LicenseKey string
	InstanceID string
	CustomerID string
}

// State wraps a Store with typed accessors for tiergate keys.
type State struct {
	store Store
	idMu  sync.Mutex
}

func NewState(s Store) *State {
	return &State{store: s}
}

// Store returns the underlying key/value store.
func (st *State) Store() Store {
	return st.store
}

func (st *State) getString(key string) (string, error) {
	v, _, err := st.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return strings.TrimSpace(v), nil
}

func (st *State) LicenseKey() (string, error) {
	return st.getString(KeyLicenseKey)
}

func (st *State) SetLicenseKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("license key is required")
	}
	return st.store.Set(KeyLicenseKey, key)
}

func (st *State) ClearLicenseKey() error {
	return st.store.Delete(KeyLicenseKey)
}

// InstanceID returns the stable installation id, generating and storing one
// on first use.
func (st *State) InstanceID() (string, error) {
	st.idMu.Lock()
	defer st.idMu.Unlock()

	id, err := st.getString(KeyInstanceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := st.store.Set(KeyInstanceID, id); err != nil {
		return "", fmt.Errorf("store instance id: %w", err)
	}
	return id, nil
}

func (st *State) CustomerID() (string, error) {
	return st.getString(KeyCustomerID)
}

func (st *State) SetCustomerID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("customer id is required")
	}
	return st.store.Set(KeyCustomerID, id)
}

func (st *State) ClearCustomerID() error {
	return st.store.Delete(KeyCustomerID)
}

// Credentials reads the credential triple without generating an instance id.
func (st *State) Credentials() (Credentials, error) {
	var c Credentials
	var err error
	if c.LicenseKey, err = st.getString(KeyLicenseKey); err != nil {
		return Credentials{}, err
	}
	if c.InstanceID, err = st.getString(KeyInstanceID); err != nil {
		return Credentials{}, err
	}
	if c.CustomerID, err = st.getString(KeyCustomerID); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Decision loads the last persisted decision. ok is false when none is stored
// or the stored value no longer validates.
func (st *State) Decision() (licensing.TierDecision, bool, error) {
	raw, err := st.getString(KeyTierDecision)
	if err != nil || raw == "" {
		return licensing.TierDecision{}, false, err
	}
	var d licensing.TierDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return licensing.TierDecision{}, false, fmt.Errorf("decode %s: %w", KeyTierDecision, err)
	}
	if err := d.Validate(); err != nil {
		return licensing.TierDecision{}, false, err
	}
	return d, true, nil
}

// SetDecision overwrites the decision and its tier/source mirrors.
func (st *State) SetDecision(d licensing.TierDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyTierDecision, err)
	}
	if err := st.store.Set(KeyTierDecision, string(data)); err != nil {
		return err
	}
	if err := st.store.Set(KeyTier, string(d.Tier)); err != nil {
		return err
	}
	return st.store.Set(KeyTierSource, string(d.Source))
}

// UITier returns the tier last applied to the gate, if any.
func (st *State) UITier() (licensing.Tier, bool, error) {
	raw, err := st.getString(KeyUITier)
	if err != nil || raw == "" {
		return licensing.TierFree, false, err
	}
	tier, ok := licensing.ParseTier(raw)
	return tier, ok, nil
}

func (st *State) SetUITier(tier licensing.Tier) error {
	return st.store.Set(KeyUITier, string(tier))
}
