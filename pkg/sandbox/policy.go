package sandbox

import (
	"strings"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// clamp returns the stricter (lower/equal) of base and override for each
// field; any attempt to widen is refused by simply not applying it, matching
// spec.md §4.11: "Each layer refuses to widen a limit."
func clampLimits(base Limits, override *Limits) Limits {
	if override == nil {
		return base
	}
	out := base
	if override.TimeoutMS > 0 && override.TimeoutMS < out.TimeoutMS {
		out.TimeoutMS = override.TimeoutMS
	}
	if override.MaxStdoutBytes > 0 && override.MaxStdoutBytes < out.MaxStdoutBytes {
		out.MaxStdoutBytes = override.MaxStdoutBytes
	}
	if override.MaxStderrBytes > 0 && override.MaxStderrBytes < out.MaxStderrBytes {
		out.MaxStderrBytes = override.MaxStderrBytes
	}
	if override.MaxArtifactsBytesTotal > 0 && override.MaxArtifactsBytesTotal < out.MaxArtifactsBytesTotal {
		out.MaxArtifactsBytesTotal = override.MaxArtifactsBytesTotal
	}
	if override.MemoryMB > 0 && override.MemoryMB < out.MemoryMB {
		out.MemoryMB = override.MemoryMB
	}
	if override.CPUCores > 0 && override.CPUCores < out.CPUCores {
		out.CPUCores = override.CPUCores
	}
	if override.PIDs > 0 && override.PIDs < out.PIDs {
		out.PIDs = override.PIDs
	}
	if override.MaxConcurrentExecs > 0 && override.MaxConcurrentExecs < out.MaxConcurrentExecs {
		out.MaxConcurrentExecs = override.MaxConcurrentExecs
	}
	return out
}

// DerivePolicy implements spec.md §4.11's policy derivation: defaults,
// clamped by the system ceiling, then by skill manifest limits, then by
// request overrides — each layer stricter-only.
func DerivePolicy(manifestLimits, requestOverrides *Limits) Limits {
	p := clampLimits(DefaultLimits(), ptr(SystemCeiling()))
	p = clampLimits(p, manifestLimits)
	p = clampLimits(p, requestOverrides)
	return p
}

func ptr(l Limits) *Limits { return &l }

// ValidateExec implements spec.md §4.11's validation rules for exec shape.
func ValidateExec(e Exec) error {
	switch e.Kind {
	case KindShell:
		if e.Command != "bash" || len(e.Args) != 2 || e.Args[0] != "-lc" {
			return lcerrors.New(lcerrors.KindInvalidArgument, "shell exec requires command=bash args=['-lc', <script>]")
		}
	case KindPython:
		if e.Command != "python" {
			return lcerrors.New(lcerrors.KindInvalidArgument, "python exec requires command=python")
		}
		if len(e.Args) == 0 {
			return lcerrors.New(lcerrors.KindInvalidArgument, "python exec requires at least one arg")
		}
		first := e.Args[0]
		validFirst := first == "-c" || first == "-u" || strings.HasPrefix(first, "/workspace/inputs/")
		if !validFirst {
			return lcerrors.New(lcerrors.KindInvalidArgument, "python exec arg[0] must be -c, -u, or start with /workspace/inputs/")
		}
	default:
		return lcerrors.New(lcerrors.KindInvalidArgument, "exec.kind must be shell or python")
	}
	return nil
}
