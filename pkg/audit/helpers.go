package audit

import (
	"net/http"
	"strings"
)

const apiPrefix = "/api/v1/"

// pathSegments splits an API path below /api/v1 into its segments.
func pathSegments(path string) []string {
	if !strings.HasPrefix(path, apiPrefix) {
		return nil
	}
	trimmed := strings.Trim(strings.TrimPrefix(path, apiPrefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// extractResourceType returns the resource type an API path acts on.
// Version routes nested under a question are reported as "version".
//
//	/api/v1/questions/7                       -> "question"
//	/api/v1/questions/7/versions              -> "version"
//	/api/v1/versions/12                       -> "version"
//	/api/v1/dataset-versions/3/questions      -> "dataset_version"
func extractResourceType(path string) string {
	segs := pathSegments(path)
	if len(segs) == 0 {
		return ""
	}
	switch segs[0] {
	case "questions":
		if len(segs) >= 3 && segs[2] == "versions" {
			return "version"
		}
		return "question"
	case "versions":
		return "version"
	case "dataset-versions":
		return "dataset_version"
	}
	return ""
}

// extractResourceID returns the ID of the top-level resource in the path,
// or "" for collection routes.
func extractResourceID(path string) string {
	segs := pathSegments(path)
	if len(segs) < 2 || !isNumeric(segs[1]) {
		return ""
	}
	return segs[1]
}

// extractActionVerb returns a human-readable action name from the HTTP method and path.
func extractActionVerb(method, path string) string {
	segs := pathSegments(path)
	last := ""
	if len(segs) > 0 {
		last = segs[len(segs)-1]
	}

	switch last {
	case "rollback":
		return "rollback"
	case "publish":
		return "publish"
	case "questions":
		if len(segs) >= 3 && segs[0] == "dataset-versions" {
			switch method {
			case http.MethodPost:
				return "add-questions"
			case http.MethodDelete:
				return "remove-questions"
			}
		}
	}

	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isManagementEndpoint returns true if the request should be audited.
// Every mutating request against the registry API is audited; reads are not.
func isManagementEndpoint(method, path string) bool {
	if isHealthEndpoint(path) || !strings.HasPrefix(path, apiPrefix) {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
