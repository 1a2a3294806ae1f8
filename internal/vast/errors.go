package vast

import (
	"errors"
	"fmt"
)

// Code is an IAB VAST error code.
type Code int

const (
	CodeXMLParse           Code = 100
	CodeSchemaValidation   Code = 101
	CodeVersionUnsupported Code = 102
	CodeTrafficking        Code = 200
	CodeGeneralWrapper     Code = 300
	CodeWrapperTimeout     Code = 301
	CodeWrapperLimit       Code = 302
	CodeNoAdsAfterWrapper  Code = 303
	CodeGeneralLinear      Code = 400
	CodeUndefined          Code = 900
	CodeGeneralVPAID       Code = 901
)

// https://support.google.com/dfp_premium/answer/4442429
var descriptions = map[Code]string{
	100: "XML parsing error.",
	101: "VAST schema validation error.",
	102: "VAST version of response not supported.",
	200: "Trafficking error.",
	201: "Video player expecting different linearity.",
	202: "Video player expecting different duration.",
	203: "Video player expecting different size.",
	300: "General Wrapper error.",
	301: "Timeout.",
	302: "Wrapper limit reached.",
	303: "No Ads VAST response after one or more Wrappers.",
	400: "General Linear error.",
	401: "File not found.",
	402: "Timeout of MediaFile URI.",
	403: "No supported MediaFile found.",
	405: "Problem displaying MediaFile.",
	500: "General NonLinearAds error.",
	501: "Unable to display NonLinear Ad because creative dimensions do not align with creative display area.",
	502: "Unable to fetch NonLinearAds/NonLinear resource.",
	503: "Couldn't find NonLinear resource with supported type.",
	600: "General CompanionAds error.",
	601: "Unable to display Companion because creative dimensions do not fit within Companion display area.",
	602: "Unable to display Required Companion.",
	603: "Unable to fetch CompanionAds/Companion resource.",
	604: "Couldn't find Companion resource with supported type.",
	900: "Undefined error.",
	901: "General VPAID error.",
}

// Description returns the human-readable text for the code.
func (c Code) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return descriptions[CodeUndefined]
}

// LoaderError is the terminal error attached to a failed document load.
type LoaderError struct {
	Code  Code
	Cause error
	URI   string
}

func NewLoaderError(code Code, cause error, uri string) *LoaderError {
	return &LoaderError{Code: code, Cause: cause, URI: uri}
}

func (e *LoaderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("vast %d: %s", e.Code, e.Code.Description())
	if e.URI != "" {
		base += fmt.Sprintf(" (uri=%s)", e.URI)
	}
	if e.Cause != nil {
		base += fmt.Sprintf(": %v", e.Cause)
	}
	return base
}

func (e *LoaderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsCode reports whether err carries a LoaderError with the given code.
func IsCode(err error, code Code) bool {
	var le *LoaderError
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// HTTPError describes a non-2xx response.
type HTTPError struct {
	Status     int
	StatusText string
}

func (e *HTTPError) Error() string {
	if e.StatusText != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}
