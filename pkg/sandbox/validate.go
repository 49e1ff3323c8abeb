package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// ValidateInputPath implements spec.md §4.11: "Each inputs[].path is
// normalized and must be relative without '..' and non-absolute."
func ValidateInputPath(p string) (string, error) {
	norm := filepath.ToSlash(filepath.Clean(p))
	if filepath.IsAbs(norm) || strings.HasPrefix(norm, "/") {
		return "", lcerrors.WithSub(lcerrors.KindPathViolation, lcerrors.SubAbsolutePathDenied, "input path must not be absolute: "+p)
	}
	if norm == ".." || strings.HasPrefix(norm, "../") || strings.Contains(norm, "/../") {
		return "", lcerrors.WithSub(lcerrors.KindPathViolation, lcerrors.SubPathTraversal, "input path must not escape the inputs directory: "+p)
	}
	return norm, nil
}

// ValidateRequest runs exec + input validation over the whole request.
func ValidateRequest(req Request) error {
	if req.ProjectID == "" {
		return lcerrors.New(lcerrors.KindInvalidArgument, "project_id is required")
	}
	if err := ValidateExec(req.Exec); err != nil {
		return err
	}
	for _, in := range req.Inputs {
		if _, err := ValidateInputPath(in.Path); err != nil {
			return err
		}
	}
	return nil
}
