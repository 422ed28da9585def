package licensing

import (
	"encoding/json"
	"net/http"
)

// UpgradeURLResolver resolves a feature-specific upgrade URL.
type UpgradeURLResolver func(feature string) string

// LicenseRequired is the 402 body returned when a locked feature is used.
type LicenseRequired struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	Feature      string `json:"feature"`
	FeatureName  string `json:"feature_name"`
	RequiredTier Tier   `json:"required_tier"`
	Price        string `json:"price"`
	UpgradeURL   string `json:"upgrade_url,omitempty"`
}

// NewLicenseRequired builds the 402 body for feature.
func NewLicenseRequired(feature, message string, resolveURL UpgradeURLResolver) LicenseRequired {
	required := FeatureMinTier(feature)
	body := LicenseRequired{
		Error:        "license_required",
		Message:      message,
		Feature:      feature,
		FeatureName:  GetFeatureDisplayName(feature),
		RequiredTier: required,
		Price:        FormatTierPrice(required),
	}
	if resolveURL != nil {
		body.UpgradeURL = resolveURL(feature)
	}
	return body
}

// WriteLicenseRequired writes a 402 Payment Required response for a locked
// feature.
func WriteLicenseRequired(w http.ResponseWriter, feature, message string, resolveURL UpgradeURLResolver) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(NewLicenseRequired(feature, message, resolveURL))
}
