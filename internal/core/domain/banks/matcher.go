// internal/core/domain/banks/matcher.go
package banks

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Weights - веса полей при сверке квитанции со счетом.
// Номер счета надежнее всего распознается, имя - хуже, название банка
// часто сокращено, поэтому веса убывают.
type Weights struct {
	AccountNumber float64
	AccountName   float64
	BankName      float64
}

// DefaultWeights - веса по умолчанию
var DefaultWeights = Weights{
	AccountNumber: 0.50,
	AccountName:   0.30,
	BankName:      0.20,
}

// MatchResult - результат сверки с пофакторными оценками
type MatchResult struct {
	Account     *Account
	Score       float64
	NumberScore float64
	NameScore   float64
	BankScore   float64
}

// Общепринятые сокращения тайских и мьянманских банков
var bankAbbreviations = map[string][]string{
	"scb":   {"siam commercial bank", "siam commercial"},
	"bbl":   {"bangkok bank"},
	"kbank": {"kasikorn bank", "kasikornbank", "kasikorn"},
	"ktb":   {"krung thai bank", "krungthai"},
	"bay":   {"bank of ayudhya", "krungsri"},
	"ttb":   {"tmbthanachart bank", "tmbthanachart"},
	"kbz":   {"kanbawza bank", "kanbawza"},
	"cb":    {"co-operative bank", "cb bank"},
	"aya":   {"ayeyarwady bank", "ayeyarwady"},
	"mab":   {"myanma apex bank", "myanmar apex bank"},
}

// Обращения, которые OCR часто добавляет к имени владельца
var honorifics = []string{"mr.", "mrs.", "ms.", "miss", "mr", "mrs", "ms", "daw", "u ", "ko ", "ma "}

// Match сверяет распознанные реквизиты со счетами и возвращает лучший
// результат. Пустой список счетов дает нулевой результат без счета.
func Match(number, name, bankName string, accounts []Account, w Weights) MatchResult {
	best := MatchResult{}

	for i := range accounts {
		acc := &accounts[i]

		numberScore := matchAccountNumber(number, acc.AccountNumber)
		nameScore := matchAccountName(name, acc.AccountName)
		bankScore := matchBankName(bankName, acc.BankName)

		score := numberScore*w.AccountNumber + nameScore*w.AccountName + bankScore*w.BankName

		if score > best.Score {
			best = MatchResult{
				Account:     acc,
				Score:       score,
				NumberScore: numberScore,
				NameScore:   nameScore,
				BankScore:   bankScore,
			}
		}
	}

	return best
}

// matchAccountNumber сравнивает номера счетов.
// Квитанции маскируют часть цифр (x, *), поэтому сравнение позиционное:
// замаскированные позиции считаются совпавшими. Совпадение последних
// четырех цифр дает частичный балл.
func matchAccountNumber(extracted, known string) float64 {
	e := normalizeDigits(extracted)
	k := normalizeDigits(known)
	if e == "" || k == "" {
		return 0
	}

	if e == k {
		return 1.0
	}

	if len(e) == len(k) {
		matched := true
		for i := 0; i < len(e); i++ {
			if e[i] == 'x' || e[i] == '*' {
				continue
			}
			if e[i] != k[i] {
				matched = false
				break
			}
		}
		if matched {
			return 1.0
		}
	}

	if len(e) >= 4 && len(k) >= 4 && lastN(e, 4) == lastN(k, 4) {
		return 0.7
	}

	return 0
}

// matchAccountName сравнивает имена владельцев через Левенштейна,
// предварительно срезав обращения
func matchAccountName(extracted, known string) float64 {
	e := stripHonorific(strings.ToLower(strings.TrimSpace(extracted)))
	k := stripHonorific(strings.ToLower(strings.TrimSpace(known)))
	if e == "" || k == "" {
		return 0
	}

	return levenshtein.RatioForStrings([]rune(e), []rune(k), levenshtein.DefaultOptions)
}

// matchBankName сравнивает названия банков с учетом сокращений
func matchBankName(extracted, known string) float64 {
	e := strings.ToLower(strings.TrimSpace(extracted))
	k := strings.ToLower(strings.TrimSpace(known))
	if e == "" || k == "" {
		return 0
	}

	if e == k || strings.Contains(e, k) || strings.Contains(k, e) {
		return 1.0
	}

	if abbreviationMatch(e, k) || abbreviationMatch(k, e) {
		return 1.0
	}

	return levenshtein.RatioForStrings([]rune(e), []rune(k), levenshtein.DefaultOptions)
}

// abbreviationMatch проверяет, является ли short сокращением long
func abbreviationMatch(short, long string) bool {
	expansions, ok := bankAbbreviations[short]
	if !ok {
		return false
	}
	for _, full := range expansions {
		if strings.Contains(long, full) {
			return true
		}
	}
	return false
}

// normalizeDigits убирает пробелы и разделители, приводит маски к x
func normalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == '*':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func stripHonorific(name string) string {
	for _, h := range honorifics {
		if strings.HasPrefix(name, h) {
			return strings.TrimSpace(name[len(h):])
		}
	}
	return name
}
