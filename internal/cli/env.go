package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// overrideEnvVars name variables that point at an env file and win over --env.
var overrideEnvVars = []string{"FUSION_ENV_FILE", "HORSE_ENV_FILE"}

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load overlays the first env file that can be read and returns its path.
// Order: override variables, the --env value, its basename, the default path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}
	log.SetOutput(os.Stderr)

	for _, candidate := range l.candidates() {
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.origin != "flag" && candidate.origin != "default" && candidate.origin != "basename" {
				log.Printf("Warning: failed to load %s=%s", candidate.origin, candidate.path)
			}
			continue
		}
		log.Printf("Loaded environment from %s: %s", candidate.origin, candidate.path)
		return candidate.path, nil
	}

	requested := strings.TrimSpace(derefString(l.value))
	if requested == "" {
		requested = l.defaultPath
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}

type envCandidate struct {
	origin string
	path   string
}

func (l *EnvLoader) candidates() []envCandidate {
	out := make([]envCandidate, 0, 5)
	for _, envVar := range overrideEnvVars {
		if custom := strings.TrimSpace(os.Getenv(envVar)); custom != "" {
			out = append(out, envCandidate{origin: envVar, path: custom})
		}
	}

	requested := strings.TrimSpace(derefString(l.value))
	if requested == "" {
		requested = l.defaultPath
	}
	out = append(out, envCandidate{origin: "flag", path: requested})

	if base := filepath.Base(requested); base != "" && base != requested {
		out = append(out, envCandidate{origin: "basename", path: base})
	}
	if requested != l.defaultPath {
		out = append(out, envCandidate{origin: "default", path: l.defaultPath})
	}
	return out
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
