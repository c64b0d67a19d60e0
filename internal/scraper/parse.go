package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// The dealer platform renders cards as free text, French locale. A typical
// card reads:
//
//	N de stock #: U6214
//	Maintenant Disponible
//	2022 Audi Q3 SUV
//	Technik 45 TFSI tiptronic
//	Kilometrage: 71,063 km
//	Prix final
//	33 795,00 $
var (
	stockRe   = regexp.MustCompile(`(?i)stock\s*#?\s*:?\s*([A-Z0-9]+)`)
	mileageRe = regexp.MustCompile(`(?i)kilom[eé]trage\s*:?\s*([\d\s,.\x{202f}]+)\s*km`)
	priceRe   = regexp.MustCompile(`([\d\s\x{202f}]+(?:[.,]\d{2})?)\s*\$`)
	yearRe    = regexp.MustCompile(`^(20[1-2]\d)\s+(.+)`)
	centsRe   = regexp.MustCompile(`[.,]\d{2}$`)
	engineRe  = regexp.MustCompile(`(\d{2,3}\s*(?:TFSI|TDI|TSI|e-tron))`)
)

// cardBoilerplate lines never carry vehicle data.
var cardBoilerplate = map[string]bool{
	"Maintenant Disponible":            true,
	"Disponible dès maintenant":        true,
	"Prix final":                       true,
	"Afficher les détails du véhicule": true,
	"Réserver un essai routier":        true,
	"Demander plus d'informations":     true,
	"Calculez mes paiements":           true,
}

// ParsePrice extracts a dollar amount from a French-formatted price line such
// as "33 795,00 $". Values outside the plausible used-vehicle range are
// rejected as parse artifacts (a monthly payment, a fee line).
func ParsePrice(line string) (int64, bool) {
	m := priceRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	s := strings.NewReplacer(" ", "", "\u202f", "").Replace(m[1])
	s = centsRe.ReplaceAllString(s, "")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 1000 || v >= 500000 {
		return 0, false
	}
	return v, true
}

// ParseMileage extracts the odometer reading from a "Kilometrage: 71,063 km"
// line. Thousands separators vary between comma, space and narrow space.
func ParseMileage(line string) (int64, bool) {
	m := mileageRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	s := strings.NewReplacer(",", "", " ", "", "\u202f", "", ".", "").Replace(strings.TrimSpace(m[1]))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// knownMakes maps tokens appearing in trade-in card titles to normalized make
// names. Anything else on the lot is an Audi.
var knownMakes = []struct{ token, make_ string }{
	{"Mercedes-Benz", "Mercedes-Benz"}, {"Mercedes", "Mercedes-Benz"},
	{"Land Rover", "Land Rover"}, {"Range Rover", "Land Rover"},
	{"BMW", "BMW"}, {"Porsche", "Porsche"}, {"Volkswagen", "Volkswagen"}, {"VW", "Volkswagen"},
	{"Toyota", "Toyota"}, {"Honda", "Honda"}, {"Lexus", "Lexus"}, {"Acura", "Acura"},
	{"Infiniti", "Infiniti"}, {"Jaguar", "Jaguar"}, {"Volvo", "Volvo"},
	{"Genesis", "Genesis"}, {"Hyundai", "Hyundai"}, {"Kia", "Kia"}, {"Mazda", "Mazda"},
	{"Subaru", "Subaru"}, {"Ford", "Ford"}, {"Chevrolet", "Chevrolet"}, {"GMC", "GMC"},
	{"Jeep", "Jeep"}, {"Dodge", "Dodge"}, {"Ram", "Ram"}, {"Tesla", "Tesla"},
	{"Nissan", "Nissan"}, {"Mitsubishi", "Mitsubishi"}, {"Lincoln", "Lincoln"},
	{"Cadillac", "Cadillac"}, {"Buick", "Buick"}, {"Chrysler", "Chrysler"},
	{"Vinfast", "Vinfast"},
}

// audiModels is ordered longest-first so "Q5 Sportback" matches before "Q5".
var audiModels = []string{
	"Q8 Sportback e-tron", "Q8 e-tron", "Q4 Sportback e-tron",
	"Q4 e-tron", "Q6 e-tron", "Q5 Sportback", "Q3 Sportback",
	"e-tron GT", "e-tron S Sportback", "e-tron Sportback", "e-tron",
	"RS Q8", "RS Q3",
	"RS7", "RS6", "RS5", "RS4", "RS3",
	"SQ8", "SQ7", "SQ5", "SQ3",
	"S8", "S7", "S6", "S5", "S4", "S3",
	"Q8", "Q7", "Q5", "Q4", "Q3", "Q2",
	"A8", "A7", "A6", "A5", "A4", "A3", "A1",
	"TT RS", "TT", "R8",
}

// RawCard is what the in-page extraction script returns per vehicle card.
type RawCard struct {
	VIN        string `json:"vin"`
	ListingURL string `json:"listing_url"`
	CardText   string `json:"card_text"`
}

// ParseCard turns one card's free text into a structured listing. Cards
// without a VIN are unusable and the caller drops them.
func ParseCard(raw RawCard) domain.Listing {
	l := domain.Listing{
		VIN:        strings.ToUpper(strings.TrimSpace(raw.VIN)),
		Make:       "Audi",
		ListingURL: raw.ListingURL,
	}

	var sawYearLine bool
	for _, line := range strings.Split(raw.CardText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || cardBoilerplate[line] {
			continue
		}

		if m := stockRe.FindStringSubmatch(line); m != nil {
			continue
		}
		if v, ok := ParseMileage(line); ok {
			if l.Mileage == nil {
				l.Mileage = &v
			}
			continue
		}
		if v, ok := ParsePrice(line); ok {
			if l.Price == nil {
				l.Price = &v
			}
			continue
		}
		if m := yearRe.FindStringSubmatch(line); m != nil && l.Year == 0 {
			l.Year, _ = strconv.Atoi(m[1])
			parseModelLine(&l, strings.TrimSpace(m[2]))
			l.Title = line
			sawYearLine = true
			continue
		}

		// The line after the year/model line is the trim description.
		if sawYearLine && l.Trim == "" && !yearRe.MatchString(line) {
			l.Trim = line
			if l.Title != "" {
				l.Title += " " + line
			}
			inferFromTrim(&l, line)
		}
	}

	applyFallbacks(&l)
	return l
}

// parseModelLine splits "Audi Q3 SUV" into make, model and body style.
func parseModelLine(l *domain.Listing, text string) {
	for _, km := range knownMakes {
		if containsFold(text, km.token) {
			l.Make = km.make_
			text = strings.TrimSpace(removeFold(text, km.token))
			break
		}
	}
	if strings.HasPrefix(strings.ToLower(text), "audi") {
		text = strings.TrimSpace(text[4:])
	}

	for _, m := range audiModels {
		idx := indexFold(text, m)
		if idx < 0 {
			continue
		}
		l.Model = m
		remainder := strings.TrimSpace(text[idx+len(m):])
		if remainder != "" && !strings.EqualFold(remainder, "suv") {
			l.BodyStyle = remainder
		}
		break
	}

	if l.BodyStyle == "" {
		l.BodyStyle = inferBodyStyle(l.Model)
	}
	if l.BodyStyle == "" && strings.Contains(text, "SUV") {
		l.BodyStyle = "SUV"
	}
}

func inferBodyStyle(model string) string {
	m := strings.ToLower(model)
	switch {
	case hasAnyPrefixDigit(m, "q"):
		return "SUV"
	case strings.Contains(m, "sportback"):
		return "Sportback"
	case hasAnyPrefixDigit(m, "a") || hasAnyPrefixDigit(m, "s"):
		return "Berline"
	case strings.Contains(m, "tt") || strings.Contains(m, "r8"):
		return "Coupé"
	}
	return ""
}

// hasAnyPrefixDigit reports whether the model contains letter+digit pairs like
// q3, a4, s5.
func hasAnyPrefixDigit(model, letter string) bool {
	for d := '1'; d <= '8'; d++ {
		if strings.Contains(model, letter+string(d)) {
			return true
		}
	}
	return false
}

// inferFromTrim derives transmission, drivetrain, fuel and engine from the
// trim description line, e.g. "Technik 45 TFSI quattro tiptronic".
func inferFromTrim(l *domain.Listing, line string) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "tiptronic"),
		strings.Contains(lower, "s tronic"), strings.Contains(lower, "s-tronic"),
		strings.Contains(lower, "automatique"):
		l.Transmission = "Automatique"
	case strings.Contains(lower, "manuelle"), strings.Contains(lower, "manual"):
		l.Transmission = "Manuelle"
	}

	if strings.Contains(lower, "quattro") {
		l.Drivetrain = "AWD (quattro)"
	}

	switch {
	case strings.Contains(line, "TFSI"), strings.Contains(line, "TSI"), strings.Contains(line, "FSI"):
		l.FuelType = "Essence"
	case strings.Contains(line, "TDI"):
		l.FuelType = "Diesel"
	case strings.Contains(lower, "e-tron"):
		l.FuelType = "Électrique"
	}

	if m := engineRe.FindStringSubmatch(line); m != nil {
		l.Engine = m[1]
	}
}

// applyFallbacks fills fuel type and transmission when the card never stated
// them. The lot is overwhelmingly gasoline automatics.
func applyFallbacks(l *domain.Listing) {
	if l.FuelType == "" {
		title := strings.ToLower(l.Title)
		switch {
		case strings.Contains(title, "e-tron"):
			l.FuelType = "Électrique"
		case strings.Contains(title, "tdi"):
			l.FuelType = "Diesel"
		default:
			l.FuelType = "Essence"
		}
	}
	if l.Transmission == "" {
		l.Transmission = "Automatique"
	}
}

func containsFold(s, sub string) bool {
	return indexFold(s, sub) >= 0
}

func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}

func removeFold(s, sub string) string {
	idx := indexFold(s, sub)
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(sub):]
}
