package i18n

// loadEnglishMessages loads the English catalog.
func loadEnglishMessages() {
	messages[LangEN] = map[string]string{
		"error.http.400": "Invalid request. Check the submitted data.",
		"error.http.401": "Invalid or expired API key. Please sign in again.",
		"error.http.403": "Access denied. Your key lacks the required permissions.",
		"error.http.404": "Resource not found.",
		"error.http.408": "The request timed out. Please try again.",
		"error.http.429": "Too many requests. Please wait before retrying.",
		"error.http.500": "Internal server error. Please try again later.",
		"error.http.502": "Bad gateway. Please try again later.",
		"error.http.503": "Service temporarily unavailable. Please try again later.",
		"error.http.504": "Gateway timeout. Please try again later.",

		"error.http.generic": "Error %d",
		"error.network":      "Network error. Check your connection and try again.",

		"ratelimit.waiting":  "Rate limit reached. You can retry in %d s.",
		"ratelimit.resolved": "You can resume your requests.",

		"credential.expired": "Session expired. Please enter a new API key in the settings.",
	}
}
