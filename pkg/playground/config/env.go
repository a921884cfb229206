package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/joho/godotenv"
	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns a cty object holding the process environment plus
// the variables read from envFiles, suitable for an HCL evaluation context.
// The process environment is not modified.
func GetEnvObject(envFiles ...string) (cty.Value, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	envMap := make(map[string]cty.Value)

	for _, envVar := range os.Environ() {
		key, value, ok := strings.Cut(envVar, "=")
		if !ok {
			continue
		}
		envMap[sanitizeEnvVarName(key)] = cty.StringVal(value)
	}

	if len(envFiles) > 0 {
		fileVars, err := godotenv.Read(envFiles...)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Failed to read env file",
				Detail:   fmt.Sprintf("Error reading %s: %s", strings.Join(envFiles, ", "), err),
			})
			return cty.NilVal, diags
		}
		for key, value := range fileVars {
			envMap[sanitizeEnvVarName(key)] = cty.StringVal(value)
		}
	}

	if len(envMap) == 0 {
		return cty.EmptyObjectVal, diags
	}

	return cty.ObjectVal(envMap), diags
}

// sanitizeEnvVarName converts an environment variable name to a valid HCL
// attribute name by replacing invalid characters with underscores.
func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var result strings.Builder
	// A leading digit or dash is kept behind an underscore so that names
	// differing only in it stay distinct.
	if first := rune(name[0]); isValidChar(first) && !isValidFirstChar(first) {
		result.WriteRune('_')
	}
	for _, char := range name {
		if isValidChar(char) {
			result.WriteRune(char)
		} else {
			result.WriteRune('_')
		}
	}

	return result.String()
}

func isValidFirstChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isValidChar(r rune) bool {
	return isValidFirstChar(r) || (r >= '0' && r <= '9') || r == '-'
}
