// Package address проверяет формат адреса доставки по правилам страны.
package address

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// Country хранит нормализованный код страны.
type Country string

const (
	CountrySpain   Country = "ES"
	CountryItaly   Country = "IT"
	CountryUnknown Country = ""
)

var (
	fiveDigits = regexp.MustCompile(`^\d{5}$`)

	countryAliases = map[string]Country{
		"spain":  CountrySpain,
		"españa": CountrySpain,
		"espana": CountrySpain,
		"es":     CountrySpain,
		"italy":  CountryItaly,
		"italia": CountryItaly,
		"it":     CountryItaly,
	}
)

// Result подводит итог проверки адреса.
type Result struct {
	Country        Country
	PostalCodeOK   bool
	HasHouseNumber bool
}

// Verified сообщает, что формат корректен и в строке улицы есть номер дома.
func (r Result) Verified() bool {
	return r.PostalCodeOK && r.HasHouseNumber
}

// NormalizeCountry сопоставляет написание страны без учёта регистра.
func NormalizeCountry(raw string) Country {
	return countryAliases[strings.ToLower(strings.TrimSpace(raw))]
}

// ValidPostalCode проверяет почтовый индекс по шаблону страны.
// Для стран без правил достаточно непустого значения.
func ValidPostalCode(country Country, postalCode string) bool {
	code := strings.TrimSpace(postalCode)
	switch country {
	case CountrySpain:
		if !fiveDigits.MatchString(code) {
			return false
		}
		province, _ := strconv.Atoi(code[:2])
		return province >= 1 && province <= 52
	case CountryItaly:
		return fiveDigits.MatchString(code)
	default:
		return code != ""
	}
}

// HasHouseNumber проверяет, что в строке улицы есть хотя бы одна цифра.
func HasHouseNumber(street string) bool {
	return strings.IndexFunc(street, unicode.IsDigit) >= 0
}

// Validate проверяет адрес доставки.
func Validate(addr domain.Address) Result {
	country := NormalizeCountry(addr.Country)
	return Result{
		Country:        country,
		PostalCodeOK:   ValidPostalCode(country, addr.PostalCode),
		HasHouseNumber: HasHouseNumber(addr.Street),
	}
}
