package authz

import (
	"net/http"
	"strings"
)

// ResourceMapping maps an HTTP request to a registry resource and verb for authorization.
type ResourceMapping struct {
	Resource string
	Verb     string
}

// UnknownMapping is returned when no known pattern matches the request.
// Callers should deny requests with this mapping by default.
var UnknownMapping = ResourceMapping{Resource: "", Verb: ""}

const (
	apiPrefix   = "/api/v1/"
	auditPrefix = "/api/audit/"
)

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
func MapRequest(method, path string) ResourceMapping {
	path = strings.TrimRight(path, "/")

	if strings.HasPrefix(path, auditPrefix) {
		if method == http.MethodGet {
			return ResourceMapping{Resource: ResourceAudit, Verb: VerbList}
		}
		return UnknownMapping
	}

	if !strings.HasPrefix(path, apiPrefix) {
		return UnknownMapping
	}
	segs := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")

	switch segs[0] {
	case "questions":
		return mapQuestionRoute(method, segs[1:])
	case "versions":
		return mapVersionRoute(method, segs[1:])
	case "dataset-versions":
		return mapDatasetRoute(method, segs[1:])
	}
	return UnknownMapping
}

// mapQuestionRoute handles /questions and everything below it.
func mapQuestionRoute(method string, rest []string) ResourceMapping {
	// /questions/{id}/versions/...
	if len(rest) >= 2 && rest[1] == "versions" {
		switch method {
		case http.MethodGet:
			return ResourceMapping{Resource: ResourceVersions, Verb: VerbList}
		case http.MethodPost:
			// Rollback appends a version just like an edit.
			return ResourceMapping{Resource: ResourceVersions, Verb: VerbCreate}
		}
		return UnknownMapping
	}

	switch method {
	case http.MethodGet:
		if len(rest) == 0 {
			return ResourceMapping{Resource: ResourceQuestions, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceQuestions, Verb: VerbGet}
	case http.MethodPost:
		return ResourceMapping{Resource: ResourceQuestions, Verb: VerbCreate}
	}
	return UnknownMapping
}

// mapVersionRoute handles /versions and everything below it.
func mapVersionRoute(method string, rest []string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if len(rest) == 1 && !isNumeric(rest[0]) {
			// compare, statistics, changes, by-actor
			return ResourceMapping{Resource: ResourceVersions, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceVersions, Verb: VerbGet}
	case http.MethodDelete:
		return ResourceMapping{Resource: ResourceVersions, Verb: VerbDelete}
	}
	return UnknownMapping
}

// mapDatasetRoute handles /dataset-versions and everything below it.
func mapDatasetRoute(method string, rest []string) ResourceMapping {
	if len(rest) == 1 && !isNumeric(rest[0]) {
		// latest, latest-published, check-name
		if method == http.MethodGet {
			return ResourceMapping{Resource: ResourceDatasets, Verb: VerbGet}
		}
		return UnknownMapping
	}
	if len(rest) >= 2 {
		switch rest[1] {
		case "publish":
			if method == http.MethodPost {
				return ResourceMapping{Resource: ResourceDatasets, Verb: VerbPublish}
			}
			return UnknownMapping
		case "questions":
			switch method {
			case http.MethodGet:
				return ResourceMapping{Resource: ResourceDatasets, Verb: VerbGet}
			case http.MethodPost, http.MethodDelete:
				// Membership edits are updates of the dataset.
				return ResourceMapping{Resource: ResourceDatasets, Verb: VerbUpdate}
			}
			return UnknownMapping
		}
	}

	switch method {
	case http.MethodGet:
		if len(rest) == 0 {
			return ResourceMapping{Resource: ResourceDatasets, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceDatasets, Verb: VerbGet}
	case http.MethodPost:
		return ResourceMapping{Resource: ResourceDatasets, Verb: VerbCreate}
	case http.MethodPatch, http.MethodPut:
		return ResourceMapping{Resource: ResourceDatasets, Verb: VerbUpdate}
	case http.MethodDelete:
		return ResourceMapping{Resource: ResourceDatasets, Verb: VerbDelete}
	}
	return UnknownMapping
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
