package store

import (
	"strings"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// ValidateFolder enforces I6: folder paths start with a leading slash, never
// end in a trailing slash except the root "/", and contain no empty segments
// ("//" or "/a//b" are rejected).
func ValidateFolder(folder string) error {
	if folder == "" || folder[0] != '/' {
		return sekherr.New(sekherr.KindValidation, "store.validate_folder", sekherr.ErrInvalidFolder)
	}
	if folder == "/" {
		return nil
	}
	if strings.HasSuffix(folder, "/") {
		return sekherr.New(sekherr.KindValidation, "store.validate_folder", sekherr.ErrInvalidFolder)
	}
	for _, seg := range strings.Split(folder[1:], "/") {
		if seg == "" {
			return sekherr.New(sekherr.KindValidation, "store.validate_folder", sekherr.ErrInvalidFolder)
		}
	}
	return nil
}

// ValidateImportanceScore enforces I4: an importance_score outside [1, 10]
// is rejected with a validation error.
func ValidateImportanceScore(score int) error {
	if score < 1 || score > 10 {
		return sekherr.New(sekherr.KindValidation, "store.validate_importance", sekherr.ErrInvalidScore)
	}
	return nil
}
