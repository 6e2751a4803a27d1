package luna

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// OrderPrefix marks customer-facing order numbers.
const OrderPrefix = "PF"

func Validate(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		ch := number[i]
		if ch < '0' || ch > '9' {
			return false
		}
		d := int(ch - '0')
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return sum%10 == 0
}

// CheckDigit returns the digit that makes payload+digit pass Validate.
func CheckDigit(payload string) (byte, error) {
	sum := 0
	alternate := true
	for i := len(payload) - 1; i >= 0; i-- {
		ch := payload[i]
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("non-digit %q in payload", ch)
		}
		d := int(ch - '0')
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return byte('0' + (10-sum%10)%10), nil
}

// NewOrderNumber builds PF<yymmdd><6 random digits><check digit>.
func NewOrderNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	payload := fmt.Sprintf("%s%06d", now.UTC().Format("060102"), n.Int64())
	check, err := CheckDigit(payload)
	if err != nil {
		return "", err
	}
	return OrderPrefix + payload + string(check), nil
}

// ValidOrderNumber checks the prefix and the Luhn digit of an order number.
func ValidOrderNumber(number string) bool {
	digits, ok := strings.CutPrefix(number, OrderPrefix)
	return ok && len(digits) == 13 && Validate(digits)
}
