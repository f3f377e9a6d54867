package nlu

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	unitWords = map[string]int{
		"cero": 0, "uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4,
		"cinco": 5, "seis": 6, "siete": 7, "ocho": 8, "nueve": 9,
	}
	specialWords = map[string]int{
		"once": 11, "doce": 12, "trece": 13, "catorce": 14, "quince": 15,
	}
	tenWords = map[string]int{
		"diez": 10, "veinte": 20, "treinta": 30, "cuarenta": 40, "cincuenta": 50,
		"sesenta": 60, "setenta": 70, "ochenta": 80, "noventa": 90,
	}

	unitAlt = `uno|una|dos|tres|cuatro|cinco|seis|siete|ocho|nueve`

	prefixedNumber = regexp.MustCompile(`\b(dieci|veinti)(` + unitAlt + `)\b`)
	compoundNumber = regexp.MustCompile(`\b(treinta|cuarenta|cincuenta|sesenta|setenta|ochenta|noventa) +y +(` + unitAlt + `)\b`)
	singleNumber   = regexp.MustCompile(`\b(cero|` + unitAlt + `|once|doce|trece|catorce|quince|diez|veinte|treinta|cuarenta|cincuenta|sesenta|setenta|ochenta|noventa)\b`)
)

// ReplaceSpokenNumbers folds text and replaces the Spanish number words
// between zero and ninety-nine by their digits ("las nueve y veinticinco"
// -> "las 9 y 25").
func ReplaceSpokenNumbers(text string) string {
	s := Fold(text)

	s = prefixedNumber.ReplaceAllStringFunc(s, func(m string) string {
		sub := prefixedNumber.FindStringSubmatch(m)
		base := 10
		if sub[1] == "veinti" {
			base = 20
		}
		return strconv.Itoa(base + unitWords[sub[2]])
	})

	s = compoundNumber.ReplaceAllStringFunc(s, func(m string) string {
		sub := compoundNumber.FindStringSubmatch(m)
		return strconv.Itoa(tenWords[sub[1]] + unitWords[sub[2]])
	})

	return singleNumber.ReplaceAllStringFunc(s, func(m string) string {
		w := strings.TrimSpace(m)
		if n, ok := unitWords[w]; ok {
			return strconv.Itoa(n)
		}
		if n, ok := specialWords[w]; ok {
			return strconv.Itoa(n)
		}
		return strconv.Itoa(tenWords[w])
	})
}
