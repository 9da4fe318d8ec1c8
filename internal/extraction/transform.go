package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/shopspring/decimal"
)

// errNotExpense marks model output that says the input held no expense.
type errNotExpense struct{ message string }

func (e *errNotExpense) Error() string { return "not an expense: " + e.message }

// decodeModelOutput parses cleaned model JSON. A bare array is accepted as
// the transactions list.
func decodeModelOutput(clean string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	switch v := parsed.(type) {
	case map[string]interface{}:
		return v, nil
	case []interface{}:
		return map[string]interface{}{"transactions": v}, nil
	default:
		return nil, fmt.Errorf("model output is %T, want object or array", parsed)
	}
}

// transformModelOutput converts decoded model output into candidate records
// coerced into the taxonomy.
func transformModelOutput(raw map[string]interface{}, in Input, tax *taxonomy.Taxonomy) ([]domain.Record, error) {
	if ok, present := raw["success"].(bool); present && !ok {
		msg, _ := getOptionalStringField(raw, "message")
		if msg == nil {
			return nil, &errNotExpense{}
		}
		return nil, &errNotExpense{message: *msg}
	}

	txAny, ok := raw["transactions"]
	if !ok {
		return nil, fmt.Errorf("missing 'transactions' key in model output")
	}
	txSlice, ok := txAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("'transactions' is %T, want []interface{}", txAny)
	}

	result := make([]domain.Record, 0, len(txSlice))
	for i, item := range txSlice {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d is %T, want map[string]interface{}", i, item)
		}

		category, err := getStringField(obj, "category", true)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		subcategory := ""
		if sub, err := getOptionalStringField(obj, "subcategory"); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		} else if sub != nil {
			subcategory = *sub
		}
		amount, err := getAmountField(obj, "amount")
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		desc, err := getStringField(obj, "description", false)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		dateStr, err := getOptionalStringField(obj, "date")
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}

		cat, sub, err := tax.Coerce(category, subcategory)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}

		occurredAt := in.ReceivedAt
		if dateStr != nil {
			occurredAt, err = occurredOn(*dateStr, in)
			if err != nil {
				return nil, fmt.Errorf("transaction %d: %w", i, err)
			}
		}

		result = append(result, domain.Record{
			OccurredAt:  occurredAt,
			Category:    cat,
			Subcategory: sub,
			Amount:      amount,
			Description: strings.TrimSpace(desc),
		})
	}
	return result, nil
}

// occurredOn resolves a YYYY-MM-DD date. The receive time is kept when the
// date is the day the message arrived; other days are pinned to noon.
func occurredOn(dateStr string, in Input) (time.Time, error) {
	loc := in.location()
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(dateStr), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	if !in.ReceivedAt.IsZero() {
		rt := in.ReceivedAt.In(loc)
		if rt.Year() == date.Year() && rt.YearDay() == date.YearDay() {
			return in.ReceivedAt, nil
		}
	}
	return date.Add(12 * time.Hour), nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

// getAmountField reads a number, or a string in Brazilian or plain format.
func getAmountField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		d, err := ParseAmount(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

var currencyNoise = regexp.MustCompile(`(?i)r\$|brl|reais|real|\s`)

// ParseAmount parses "50", "45,90", "1.234,56", "R$ 12.50" or "-30,00".
// When both separators appear the last one is the decimal separator; a lone
// comma is always decimal, a lone dot is decimal unless it groups thousands.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := currencyNoise.ReplaceAllString(s, "")
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount %q", s)
	}

	lastComma := strings.LastIndex(clean, ",")
	lastDot := strings.LastIndex(clean, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") > 1 {
			return decimal.Zero, fmt.Errorf("malformed amount %q", s)
		}
		clean = strings.Replace(clean, ",", ".", 1)
	case lastDot >= 0:
		if thousandsGrouped(clean) {
			clean = strings.ReplaceAll(clean, ".", "")
		}
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed amount %q: %w", s, err)
	}
	return d, nil
}

var thousandsPattern = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)

func thousandsGrouped(s string) bool {
	return thousandsPattern.MatchString(s)
}
