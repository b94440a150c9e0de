package secondary

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/scamshield/internal/domain"
)

// Feature names as they appear in a model's feature_order.
const (
	FeatureLenText     = "len_text"
	FeatureHasOTP      = "has_otp"
	FeatureHasSeed     = "has_seed"
	FeatureHasUrgent   = "has_urgent"
	FeatureURLMismatch = "url_mismatch"
	FeatureDomainAge   = "domain_age"
	FeatureReports     = "reports"
	FeatureBlacklisted = "blacklisted"
)

// FeatureNames lists every feature in canonical order.
var FeatureNames = []string{
	FeatureLenText,
	FeatureHasOTP,
	FeatureHasSeed,
	FeatureHasUrgent,
	FeatureURLMismatch,
	FeatureDomainAge,
	FeatureReports,
	FeatureBlacklisted,
}

// UnknownDomainAge stands in for a missing sender domain age.
const UnknownDomainAge = 9999

var (
	otpTerms    = []string{"otp", "one-time password"}
	seedTerms   = []string{"seed phrase", "private key", "recovery phrase"}
	urgentTerms = []string{"urgent", "immediately"}
)

// Features is the numeric view of an event used by the secondary model.
type Features map[string]float64

// Featurize extracts the model features from an event.
func Featurize(ev *domain.Event) Features {
	if ev == nil {
		ev = &domain.Event{}
	}
	text := strings.ToLower(ev.Text)

	age := float64(UnknownDomainAge)
	if ev.Sender.DomainAgeDays != nil {
		age = float64(*ev.Sender.DomainAgeDays)
	}

	return Features{
		FeatureLenText:     float64(utf8.RuneCountInString(text)),
		FeatureHasOTP:      flag(containsAnyOf(text, otpTerms)),
		FeatureHasSeed:     flag(containsAnyOf(text, seedTerms)),
		FeatureHasUrgent:   flag(containsAnyOf(text, urgentTerms)),
		FeatureURLMismatch: flag(!strings.EqualFold(ev.DisplayDomain, ev.FinalDomain)),
		FeatureDomainAge:   age,
		FeatureReports:     float64(ev.Reputation.ReportsLast90d),
		FeatureBlacklisted: flag(ev.Reputation.GlobalBlacklist),
	}
}

// Key returns a stable digest of the feature vector, used as a cache key.
func (f Features) Key() string {
	h := sha256.New()
	var buf [8]byte
	for _, name := range FeatureNames {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f[name]))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func containsAnyOf(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
