package helpers

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/thedevsaddam/govalidator"
)

// MinAmount backs the min_amount rule when the rule carries no explicit bound. It is set from
// CHECKOUT_MIN_AMOUNT at startup.
var MinAmount int64 = 100

func init() {
	govalidator.AddCustomRule("date_ISO8601", func(field string, rule string, message string, value interface{}) error {
		dateLayoutISO8601 := "2006-01-02"
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.String {
			date := value.(string)
			if date == "" {
				return nil
			}
			if _, err := time.Parse(dateLayoutISO8601, date); err != nil {
				if message != "" {
					return fmt.Errorf(message)
				}
				return fmt.Errorf("The %s field must be ISO8601 yyyy-mm-dd date ", field)
			}
		}
		return nil
	})
	govalidator.AddCustomRule("min_amount", func(field string, rule string, message string, value interface{}) error {
		min := MinAmount
		if i := strings.Index(rule, ":"); i >= 0 {
			bound, err := strconv.ParseInt(rule[i+1:], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid min_amount rule %q", rule)
			}
			min = bound
		}
		if s, isString := value.(string); isString && s == "" {
			return nil
		}
		amount, ok := integerAmount(value)
		if !ok || amount < min {
			if message != "" {
				return fmt.Errorf(message)
			}
			return fmt.Errorf("The %s field must be an integer of at least %d", field, min)
		}
		return nil
	})
	govalidator.AddCustomRule("payment_method", func(field string, rule string, message string, value interface{}) error {
		method, _ := value.(string)
		if method == "" {
			return nil
		}
		if !models.PaymentMethod(method).Valid() {
			if message != "" {
				return fmt.Errorf(message)
			}
			return fmt.Errorf("The %s field must be one of %v", field, models.PaymentMethods)
		}
		return nil
	})
}

// integerAmount accepts the shapes an amount takes after JSON or form decoding. Fractional values are rejected.
func integerAmount(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}
