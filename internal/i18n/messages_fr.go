package i18n

// loadFrenchMessages loads the French catalog. This is the reference
// catalog: the console renders these messages verbatim.
func loadFrenchMessages() {
	messages[LangFR] = map[string]string{
		// HTTP status messages, used when the backend supplies no
		// detail message of its own.
		"error.http.400": "Requête invalide. Vérifiez les données envoyées.",
		"error.http.401": "Clé API invalide ou expirée. Veuillez vous reconnecter.",
		"error.http.403": "Accès refusé. Votre clé ne dispose pas des droits nécessaires.",
		"error.http.404": "Ressource introuvable.",
		"error.http.408": "La requête a expiré. Veuillez réessayer.",
		"error.http.429": "Trop de requêtes. Veuillez patienter avant de réessayer.",
		"error.http.500": "Erreur interne du serveur. Veuillez réessayer plus tard.",
		"error.http.502": "Passerelle indisponible. Veuillez réessayer plus tard.",
		"error.http.503": "Service temporairement indisponible. Veuillez réessayer plus tard.",
		"error.http.504": "Délai d'attente de la passerelle dépassé. Veuillez réessayer plus tard.",

		// Fallbacks
		"error.http.generic": "Erreur %d",
		"error.network":      "Erreur réseau. Vérifiez votre connexion et réessayez.",

		// Rate limit countdown notifications
		"ratelimit.waiting":  "Limite de requêtes atteinte. Nouvel essai possible dans %d s.",
		"ratelimit.resolved": "Vous pouvez reprendre vos requêtes.",

		// Credential lifecycle
		"credential.expired": "Session expirée. Veuillez saisir une nouvelle clé API dans les paramètres.",
	}
}
