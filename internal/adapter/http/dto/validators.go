package dto

import (
	"html"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"agent-payment-gateway/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterValidations(v)
	}
}

// RegisterValidations installs the custom tags used by the request DTOs.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("safe_id", validateSafeID)
	_ = v.RegisterValidation("safe_url", validateSafeURL)
	_ = v.RegisterValidation("evm_address", validateEVMAddress)
	_ = v.RegisterValidation("asset_symbol", validateAssetSymbol)
	_ = v.RegisterValidation("decimal_amount", validateDecimalAmount)
}

// IsSafeID reports whether s holds only alphanumerics, underscore, dash, and dot.
func IsSafeID(s string) bool {
	return safeStringRe.MatchString(s)
}

func validateSafeID(fl validator.FieldLevel) bool {
	return IsSafeID(fl.Field().String())
}

// validateSafeURL accepts only absolute http/https URLs.
func validateSafeURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true // optional field; use "required" tag to enforce presence
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateEVMAddress accepts a 0x-prefixed 20-byte hex address.
func validateEVMAddress(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func validateAssetSymbol(fl validator.FieldLevel) bool {
	_, ok := domain.LookupAsset(fl.Field().String())
	return ok
}

// validateDecimalAmount accepts a strictly positive decimal string.
func validateDecimalAmount(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
	if err != nil {
		return false
	}
	return d.IsPositive()
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				elem.SetString(sanitize(elem.String()))
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
