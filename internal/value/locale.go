package value

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Locale converts values to and from user-facing text.
type Locale struct {
	// Tag selects digit grouping and other language conventions for display.
	Tag language.Tag
	// DecimalSeparator is used when parsing and formatting plain numbers.
	DecimalSeparator string
	// GroupingSeparator is stripped when parsing numbers (e.g. "1,000").
	GroupingSeparator string
	// CSVSeparator is the default field separator for delimited files.
	CSVSeparator rune
	// Grouping enables digit grouping in Format.
	Grouping bool
	// MaxFractionDigits caps fractional digits in Format; 0 means no cap.
	MaxFractionDigits int
}

// DefaultLocale is the locale-neutral configuration: "." decimals, no grouping.
func DefaultLocale() Locale {
	return Locale{
		Tag:              language.English,
		DecimalSeparator: ".",
		CSVSeparator:     ',',
	}
}

// LocaleFor returns a locale for a BCP 47 tag with the separators that
// language conventionally uses.
func LocaleFor(tag string) (Locale, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return Locale{}, err
	}
	l := DefaultLocale()
	l.Tag = t
	base, _ := t.Base()
	switch base.String() {
	case "nl", "de", "fr", "es", "it", "pt", "cs", "pl", "da", "sv", "nb", "fi", "ru":
		l.DecimalSeparator = ","
		l.GroupingSeparator = "."
		l.CSVSeparator = ';'
	default:
		l.GroupingSeparator = ","
	}
	return l, nil
}

// Format renders v for display. Invalid renders as an empty string; callers
// that need to distinguish it should check the kind first.
func (l Locale) Format(v Value) string {
	switch v.Kind() {
	case KindDouble, KindInt:
		if l.Grouping {
			f, _ := v.DoubleValue()
			opts := []number.Option{}
			if l.MaxFractionDigits > 0 {
				opts = append(opts, number.MaxFractionDigits(l.MaxFractionDigits))
			}
			return message.NewPrinter(l.Tag).Sprint(number.Decimal(f, opts...))
		}
		s, _ := v.StringValue()
		if v.Kind() == KindDouble && l.MaxFractionDigits > 0 {
			f, _ := v.DoubleValue()
			s = strconv.FormatFloat(f, 'f', l.MaxFractionDigits, 64)
			s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
		}
		if l.DecimalSeparator != "" && l.DecimalSeparator != "." {
			s = strings.Replace(s, ".", l.DecimalSeparator, 1)
		}
		return s
	default:
		s, _ := v.StringValue()
		return s
	}
}

// Parse infers a value from user or file text: integers first, then
// decimals, otherwise a string. Blank text becomes Empty.
func (l Locale) Parse(s string) Value {
	if s == "" {
		return Empty()
	}
	t := strings.TrimSpace(s)
	if t == "" || !looksNumeric(t) {
		return String(s)
	}
	if l.GroupingSeparator != "" && strings.Contains(t, l.GroupingSeparator) && l.GroupingSeparator != l.DecimalSeparator {
		t = strings.ReplaceAll(t, l.GroupingSeparator, "")
	}
	if l.DecimalSeparator != "" && l.DecimalSeparator != "." {
		t = strings.Replace(t, l.DecimalSeparator, ".", 1)
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		// Keep leading zeros ("007") and explicit signs as text; they are
		// usually identifiers, not numbers.
		if canonical := strconv.FormatInt(i, 10); canonical == t {
			return Int(i)
		}
		return String(s)
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		if v := Double(f); !v.IsInvalid() {
			return v
		}
	}
	return String(s)
}

func looksNumeric(s string) bool {
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' || r == '+':
			if i != 0 && s[i-1] != 'e' && s[i-1] != 'E' {
				return false
			}
		case r == '.' || r == ',' || r == 'e' || r == 'E' || r == ' ' || r == ' ':
		default:
			return false
		}
	}
	return true
}
