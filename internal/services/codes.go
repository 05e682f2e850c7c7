package rewards

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"unicode"

	model "github.com/glkeru/loyalty/rewards/internal/models"
)

const (
	couponAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	couponSuffixLen = 6
	customerLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ" // без I и O
	customerDigits  = "0123456789"
	accountIDMinLen = 28
	maxCodeAttempts = 8
)

var (
	codeStrip = regexp.MustCompile(`[^A-Z0-9-]`)
	codeTail  = regexp.MustCompile(`([A-Z0-9]{4})([A-Z0-9]{4})$`)
)

func randomString(alphabet string, n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// код купона: PRM-XXXXXX / RWD-XXXXXX
func NewCouponCode(kind model.CouponKind) (string, error) {
	suffix, err := randomString(couponAlphabet, couponSuffixLen)
	if err != nil {
		return "", err
	}
	return kind.Prefix() + "-" + suffix, nil
}

// код клиента: ABCD-1234
func GenerateCustomerCode() (string, error) {
	letters, err := randomString(customerLetters, 4)
	if err != nil {
		return "", err
	}
	digits, err := randomString(customerDigits, 4)
	if err != nil {
		return "", err
	}
	return letters + "-" + digits, nil
}

// abcd 1234 -> ABCD-1234
func NormalizeCustomerCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	code = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)
	code = codeStrip.ReplaceAllString(code, "")
	return codeTail.ReplaceAllString(code, "$1-$2")
}

// похоже на ID счета, а не на код клиента
func looksLikeAccountID(raw string) bool {
	return len(raw) >= accountIDMinLen && !strings.Contains(raw, "-")
}
