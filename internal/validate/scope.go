package validate

// SanitizeScope validates and canonicalizes the three scope identifiers.
// Each must be a valid slug; the cleaned values are returned in order.
func SanitizeScope(tenantID, userID, workspaceID string) (string, string, string, error) {
	t, err := SanitizeSlug("tenantId", tenantID)
	if err != nil {
		return "", "", "", err
	}
	u, err := SanitizeSlug("userId", userID)
	if err != nil {
		return "", "", "", err
	}
	w, err := SanitizeSlug("workspaceId", workspaceID)
	if err != nil {
		return "", "", "", err
	}
	return t, u, w, nil
}
