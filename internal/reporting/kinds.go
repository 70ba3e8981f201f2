package reporting

import "github.com/xkilldash9x/scalpel-sast/internal/reporting/sarif"

// vulnerability describes a sink kind for report rule metadata.
type vulnerability struct {
	Name           string
	Description    string
	Recommendation string
	CWE            []string
	Level          sarif.Level
}

var vulnerabilities = map[string]vulnerability{
	"xss": {
		Name:           "Cross-Site Scripting",
		Description:    "Untrusted data reaches an HTML rendering sink without encoding.",
		Recommendation: "Encode output for its context or use a safe DOM API such as textContent.",
		CWE:            []string{"CWE-79"},
		Level:          sarif.LevelError,
	},
	"attribute": {
		Name:           "Attribute Injection",
		Description:    "Untrusted data is written to a URL-bearing DOM attribute.",
		Recommendation: "Validate the URL scheme against an allowlist before assigning it.",
		CWE:            []string{"CWE-79", "CWE-83"},
		Level:          sarif.LevelWarning,
	},
	"code": {
		Name:           "Code Injection",
		Description:    "Untrusted data is evaluated as code.",
		Recommendation: "Never pass untrusted data to eval-like functions; parse data instead.",
		CWE:            []string{"CWE-94", "CWE-95"},
		Level:          sarif.LevelError,
	},
	"redirect": {
		Name:           "Open Redirect",
		Description:    "Untrusted data controls a navigation or redirect target.",
		Recommendation: "Redirect only to relative paths or to an allowlist of hosts.",
		CWE:            []string{"CWE-601"},
		Level:          sarif.LevelWarning,
	},
	"cookie": {
		Name:           "Cookie Manipulation",
		Description:    "Untrusted data is written into a cookie.",
		Recommendation: "Validate and encode cookie values; avoid reflecting request data into cookies.",
		CWE:            []string{"CWE-565"},
		Level:          sarif.LevelNote,
	},
	"cmdi": {
		Name:           "OS Command Injection",
		Description:    "Untrusted data reaches an operating system command.",
		Recommendation: "Pass arguments as a list without a shell and validate them against an allowlist.",
		CWE:            []string{"CWE-78"},
		Level:          sarif.LevelError,
	},
	"sqli": {
		Name:           "SQL Injection",
		Description:    "Untrusted data is concatenated into a SQL statement.",
		Recommendation: "Use parameterized queries or prepared statements with bound parameters.",
		CWE:            []string{"CWE-89"},
		Level:          sarif.LevelError,
	},
	"path": {
		Name:           "Path Traversal",
		Description:    "Untrusted data is used to build a file system path.",
		Recommendation: "Resolve the path and verify it stays under the intended base directory.",
		CWE:            []string{"CWE-22"},
		Level:          sarif.LevelWarning,
	},
}

// describe returns the metadata for kind, falling back to a generic entry.
func describe(kind string) vulnerability {
	if v, ok := vulnerabilities[kind]; ok {
		return v
	}
	return vulnerability{
		Name:           "Tainted Data Flow",
		Description:    "Untrusted data reaches a sensitive operation.",
		Recommendation: "Validate or sanitize the data before it reaches the sink.",
		Level:          sarif.LevelWarning,
	}
}
