// Package pricing computes policy premiums from static multiplier tables.
// Every function here is pure.
package pricing

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/extralife/internal/model"
)

// BaseRate is the share of canonical coverage charged before multipliers
const BaseRate = 0.05

// DefaultRegion is the region key used for unrecognized states
const DefaultRegion = "default"

var baseCoverage = map[model.CoverageType]int64{
	model.CoverageBasic:    100000,
	model.CoverageStandard: 250000,
	model.CoveragePremium:  500000,
	model.CoveragePlatinum: 1000000,
}

var genderRates = map[model.Gender]float64{
	model.GenderMale:   1.1,
	model.GenderFemale: 0.95,
	model.GenderOther:  1.0,
}

var regionRates = map[string]float64{
	"cdmx":        1.2,
	"jalisco":     1.0,
	"nuevo_leon":  1.1,
	"yucatan":     0.9,
	"puebla":      0.95,
	DefaultRegion: 1.0,
}

var regionAliases = map[string]string{
	"ciudad_de_mexico": "cdmx",
	"mexico_city":      "cdmx",
	"df":               "cdmx",
	"distrito_federal": "cdmx",
	"nl":               "nuevo_leon",
	"monterrey":        "nuevo_leon",
	"guadalajara":      "jalisco",
	"merida":           "yucatan",
}

// AgeBand is one age bucket of the pricing table
type AgeBand struct {
	Label      string
	MaxAge     int // inclusive; the last band has no upper bound
	Multiplier float64
}

// AgeBands partition all ages. Bands are ordered by MaxAge.
var AgeBands = []AgeBand{
	{Label: "18-25", MaxAge: 25, Multiplier: 0.8},
	{Label: "26-35", MaxAge: 35, Multiplier: 0.9},
	{Label: "36-45", MaxAge: 45, Multiplier: 1.0},
	{Label: "46-55", MaxAge: 55, Multiplier: 1.3},
	{Label: "56-65", MaxAge: 65, Multiplier: 1.6},
	{Label: "66+", MaxAge: math.MaxInt, Multiplier: 2.0},
}

// BandFor returns the band containing age
func BandFor(age int) AgeBand {
	for _, b := range AgeBands {
		if age <= b.MaxAge {
			return b
		}
	}
	return AgeBands[len(AgeBands)-1]
}

// CoverageFor returns the canonical coverage of a tier and whether the tier is known
func CoverageFor(tier model.CoverageType) (int64, bool) {
	c, ok := baseCoverage[tier]
	return c, ok
}

// GenderMultiplier returns the gender factor, 1.0 for unknown values
func GenderMultiplier(g model.Gender) float64 {
	if m, ok := genderRates[model.Gender(strings.ToLower(string(g)))]; ok {
		return m
	}
	return 1.0
}

// NormalizeRegion maps free-form state names onto region table keys.
// Unrecognized input maps to DefaultRegion.
func NormalizeRegion(state string) string {
	key := foldRegion(state)
	if alias, ok := regionAliases[key]; ok {
		key = alias
	}
	if _, ok := regionRates[key]; ok {
		return key
	}
	return DefaultRegion
}

// RegionMultiplier returns the factor for a state
func RegionMultiplier(state string) float64 {
	return regionRates[NormalizeRegion(state)]
}

// foldRegion lower-cases, strips accents, and joins words with underscores
func foldRegion(s string) string {
	decomposed := norm.NFD.String(strings.TrimSpace(strings.ToLower(s)))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining accent
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// CalculatePremium returns the rounded premium in whole MXN. The tier's
// canonical coverage is priced, not the requested amount; the requested
// amount is used only for unknown tiers.
func CalculatePremium(tier model.CoverageType, coverageAmount int64, age int, gender model.Gender, state string) int64 {
	return Calculate(tier, coverageAmount, age, gender, state).Premium
}

// Quote is a premium with the factors that produced it
type Quote struct {
	CoverageType     model.CoverageType `json:"coverageType"`
	CoverageAmount   int64              `json:"coverageAmount"`
	BaseRate         float64            `json:"baseRate"`
	AgeBand          string             `json:"ageBand"`
	AgeMultiplier    float64            `json:"ageMultiplier"`
	GenderMultiplier float64            `json:"genderMultiplier"`
	Region           string             `json:"region"`
	RegionMultiplier float64            `json:"regionMultiplier"`
	Premium          int64              `json:"premium"`
}

// Calculate prices a policy and returns the breakdown
func Calculate(tier model.CoverageType, coverageAmount int64, age int, gender model.Gender, state string) Quote {
	coverage, ok := CoverageFor(tier)
	if !ok {
		coverage = coverageAmount
	}

	band := BandFor(age)
	region := NormalizeRegion(state)
	q := Quote{
		CoverageType:     tier,
		CoverageAmount:   coverage,
		BaseRate:         BaseRate,
		AgeBand:          band.Label,
		AgeMultiplier:    band.Multiplier,
		GenderMultiplier: GenderMultiplier(gender),
		Region:           region,
		RegionMultiplier: regionRates[region],
	}

	raw := float64(coverage) * BaseRate * q.AgeMultiplier * q.GenderMultiplier * q.RegionMultiplier
	// round half up
	q.Premium = int64(math.Floor(raw + 0.5))
	return q
}

// TierForPayment maps a checkout payment amount onto a tier
func TierForPayment(amount float64) model.CoverageType {
	switch {
	case amount <= 5000:
		return model.CoverageBasic
	case amount <= 10000:
		return model.CoverageStandard
	case amount <= 20000:
		return model.CoveragePremium
	default:
		return model.CoveragePlatinum
	}
}
