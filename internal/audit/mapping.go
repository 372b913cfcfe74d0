package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route pattern.
type ActionResource struct {
	Action   string
	Resource string
}

const apiPrefix = "/api/v1/"

// ParseRoute returns action and resource for a method and chi route pattern
// (e.g. POST /api/v1/entities/{id}/command -> command on entity).
// The resource is the first path segment in singular form. The action is the
// last literal segment when it differs from the resource, and a verb derived
// from the method otherwise.
func ParseRoute(method, pattern string) ActionResource {
	path := strings.TrimPrefix(pattern, apiPrefix)
	path = strings.Trim(path, "/")
	if path == "" {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	segs := strings.Split(path, "/")
	resource := singular(segs[0])

	action := ""
	for i := len(segs) - 1; i > 0; i-- {
		if !strings.HasPrefix(segs[i], "{") {
			action = segs[i]
			break
		}
	}
	if action == "" {
		action = methodToAction(method)
	}
	return ActionResource{Action: action, Resource: resource}
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return strings.TrimSuffix(s, "ies") + "y"
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return strings.TrimSuffix(s, "s")
	default:
		return s
	}
}

func methodToAction(method string) string {
	switch strings.ToUpper(method) {
	case "GET":
		return "get"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
