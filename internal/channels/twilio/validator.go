package twilio

import (
	"net/url"

	twilioclient "github.com/twilio/twilio-go/client"
)

// SignatureValidator checks the X-Twilio-Signature header of webhooks.
type SignatureValidator struct {
	validator twilioclient.RequestValidator
}

// NewSignatureValidator returns a validator keyed by the account auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the full public url and form values.
func (v *SignatureValidator) Valid(fullURL string, form url.Values, signature string) bool {
	if v == nil || signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}
	return v.validator.Validate(fullURL, params, signature)
}
