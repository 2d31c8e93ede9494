package apierror

import (
	"fmt"

	"github.com/corpora-ai/corpora-go/internal/i18n"
)

// MessageFor returns the localized user-facing message for an HTTP
// status code. Documented codes get a specific message; anything else
// gets the generic "Erreur <code>" form. Status 0 is the network
// failure message.
func MessageFor(code int) string {
	switch code {
	case 0:
		return i18n.T("error.network")
	case 400, 401, 403, 404, 408, 429, 500, 502, 503, 504:
		return i18n.T(fmt.Sprintf("error.http.%d", code))
	default:
		return i18n.Sprintf("error.http.generic", code)
	}
}
