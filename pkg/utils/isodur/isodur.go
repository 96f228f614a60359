// Package isodur converts ISO-8601 duration strings, as returned by the
// YouTube Data API's contentDetails.duration field, into total seconds.
package isodur

// Unit multipliers. "M" is months in the date part and minutes in the
// time part; the two are disambiguated by which side of "T" the token
// came from.
var (
	dateUnits = map[byte]int64{
		'Y': 31_536_000,
		'M': 2_592_000,
		'W': 604_800,
		'D': 86_400,
	}
	timeUnits = map[byte]int64{
		'H': 3600,
		'M': 60,
		'S': 1,
	}
)

// Seconds converts an ISO-8601 duration ("P1DT2H3M4S") to total seconds.
//
// Parsing is lenient: unrecognized or empty tokens contribute zero, and a
// malformed string degrades to the sum of whatever valid tokens are found.
// An empty string yields 0.
func Seconds(duration string) int64 {
	datePart, timePart := splitParts(duration)
	return sumTokens(datePart, dateUnits) + sumTokens(timePart, timeUnits)
}

func splitParts(duration string) (datePart, timePart string) {
	for i := 0; i < len(duration); i++ {
		if duration[i] == 'T' {
			return trimDesignator(duration[:i]), duration[i+1:]
		}
	}
	return trimDesignator(duration), ""
}

func trimDesignator(s string) string {
	if len(s) > 0 && s[0] == 'P' {
		return s[1:]
	}
	return s
}

func sumTokens(part string, units map[byte]int64) int64 {
	var total, value int64
	var sawDigit bool
	for i := 0; i < len(part); i++ {
		c := part[i]
		if c >= '0' && c <= '9' {
			value = value*10 + int64(c-'0')
			sawDigit = true
			continue
		}
		if mult, ok := units[c]; ok && sawDigit {
			total += value * mult
		}
		value = 0
		sawDigit = false
	}
	return total
}
