// Package specialization holds the advisory descriptions of each agent
// specialization, consumed when assembling a child agent's prompt.
package specialization

import "github.com/keenhq/keen/pkg/models"

// Context describes what an agent of a given specialization focuses on.
type Context struct {
	Focus            string   `json:"focus"`
	Tools            []string `json:"tools"`
	Responsibilities []string `json:"responsibilities"`
}

var (
	frontendContext = Context{
		Focus: "User interface, client-side state and user experience",
		Tools: []string{"react", "typescript", "css", "vite", "playwright"},
		Responsibilities: []string{
			"Build accessible, responsive UI components",
			"Manage client-side state and data fetching",
			"Keep the visual language consistent across pages",
		},
	}
	backendContext = Context{
		Focus: "Server-side logic, APIs and service integration",
		Tools: []string{"node", "express", "go", "openapi", "curl"},
		Responsibilities: []string{
			"Design and implement API endpoints",
			"Validate input and handle errors at service boundaries",
			"Integrate with external services and queues",
		},
	}
	databaseContext = Context{
		Focus: "Schema design, migrations and query performance",
		Tools: []string{"postgres", "sql", "migrations", "explain"},
		Responsibilities: []string{
			"Model data and write reversible migrations",
			"Add indexes for the queries the application runs",
			"Protect data integrity with constraints",
		},
	}
	testingContext = Context{
		Focus: "Automated verification of behavior",
		Tools: []string{"jest", "vitest", "go test", "playwright", "coverage"},
		Responsibilities: []string{
			"Write unit and integration tests for new behavior",
			"Reproduce reported bugs with failing tests first",
			"Keep the suite fast and deterministic",
		},
	}
	securityContext = Context{
		Focus: "Authentication, authorization and secure defaults",
		Tools: []string{"semgrep", "npm audit", "gitleaks", "owasp-zap"},
		Responsibilities: []string{
			"Review changes for injection and access-control flaws",
			"Keep secrets out of the repository",
			"Harden configuration and dependencies",
		},
	}
	devopsContext = Context{
		Focus: "Build, deployment and runtime infrastructure",
		Tools: []string{"docker", "github-actions", "terraform", "kubectl"},
		Responsibilities: []string{
			"Maintain CI pipelines and build scripts",
			"Containerize services and describe infrastructure as code",
			"Wire up logging, metrics and health checks",
		},
	}
	generalContext = Context{
		Focus: "End-to-end delivery of the assigned vision",
		Tools: []string{"git", "shell", "editor"},
		Responsibilities: []string{
			"Understand the vision and the existing codebase",
			"Implement the work or delegate it to specialists",
			"Leave the branch in a buildable, committed state",
		},
	}
)

// Lookup returns the context for s. Unknown specializations fall back to
// the general context.
func Lookup(s models.Specialization) Context {
	switch s {
	case models.SpecializationFrontend:
		return frontendContext.clone()
	case models.SpecializationBackend:
		return backendContext.clone()
	case models.SpecializationDatabase:
		return databaseContext.clone()
	case models.SpecializationTesting:
		return testingContext.clone()
	case models.SpecializationSecurity:
		return securityContext.clone()
	case models.SpecializationDevops:
		return devopsContext.clone()
	case models.SpecializationGeneral:
		return generalContext.clone()
	default:
		return generalContext.clone()
	}
}

// All returns every specialization in declaration order.
func All() []models.Specialization {
	return append([]models.Specialization(nil), models.Specializations...)
}

func (c Context) clone() Context {
	return Context{
		Focus:            c.Focus,
		Tools:            append([]string(nil), c.Tools...),
		Responsibilities: append([]string(nil), c.Responsibilities...),
	}
}
