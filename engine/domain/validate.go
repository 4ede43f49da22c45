package domain

import "strings"

// ValidateOrigin checks an origin reference before fetching or normalizing.
func ValidateOrigin(ref OriginRef) error {
	if !ValidSourceKinds[ref.Kind] {
		return NewValidationError("kind", string(ref.Kind), ErrUnknownSourceKind)
	}
	switch ref.Kind {
	case SourceGitHubFile:
		if ref.Repository == "" {
			return NewValidationError("repository", "", ErrMissingOrigin)
		}
		if ref.Branch == "" {
			return NewValidationError("branch", "", ErrMissingOrigin)
		}
		if ref.Path == "" {
			return NewValidationError("path", "", ErrMissingOrigin)
		}
	case SourceWebPage:
		if !strings.HasPrefix(ref.URL, "http://") && !strings.HasPrefix(ref.URL, "https://") {
			return NewValidationError("url", ref.URL, ErrMissingOrigin)
		}
	default:
		if ref.Name == "" {
			return NewValidationError("name", "", ErrMissingOrigin)
		}
	}
	return nil
}

// ValidateQuery checks a query request at the pipeline entry point.
func ValidateQuery(repositoryID, branch, question string) error {
	if strings.TrimSpace(repositoryID) == "" {
		return NewValidationError("repository_id", repositoryID, ErrEmptyRepository)
	}
	if strings.TrimSpace(branch) == "" {
		return NewValidationError("branch", branch, ErrEmptyBranch)
	}
	if strings.TrimSpace(question) == "" {
		return NewValidationError("question", question, ErrEmptyQuery)
	}
	return nil
}
