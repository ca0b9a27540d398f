package analyzers

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scan-io-git/scanguard/internal/findings"
)

const SecurityName = "security"

var (
	jsExtensions     = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}
	pythonExtensions = []string{".py"}
)

var placeholderValue = regexp.MustCompile(`(?i)(example|placeholder|changeme|your[_-]|<[a-z_-]+>|\$\{|\{\{|xxxx)`)

var securityRules = []Rule{
	{
		ID:          "hardcoded-secret",
		Pattern:     regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|private[_-]?key|auth[_-]?token|jwt[_-]?secret)\s*[:=]\s*["'][^"']{8,}["']`),
		Skip:        placeholderValue,
		Severity:    findings.SeverityCritical,
		Category:    findings.CategorySecurity,
		Message:     "Hardcoded secret",
		Description: "A credential is assigned from a string literal.",
		Suggestion:  "Load secrets from the environment or a secret manager.",
		Confidence:  0.8,
	},
	{
		ID:          "cloud-access-key",
		Pattern:     regexp.MustCompile(`AKIA[0-9A-Z]{16}|ghp_[0-9a-zA-Z]{36}|xox[baprs]-[0-9a-zA-Z-]{10,48}`),
		Severity:    findings.SeverityCritical,
		Category:    findings.CategorySecurity,
		Message:     "Access key or token committed to source",
		Description: "The value matches the format of a cloud or SaaS access token.",
		Suggestion:  "Revoke the key and load it from a secret store.",
		Confidence:  0.95,
	},
	{
		ID:          "sql-injection",
		Pattern:     regexp.MustCompile(`(?i)((select|insert|update|delete)\s+.*["']\s*\+|query\s*\(\s*["'].*\+|fmt\.Sprintf\(\s*"(select|insert|update|delete)\s)`),
		Severity:    findings.SeverityHigh,
		Category:    findings.CategorySecurity,
		Message:     "SQL statement built by string concatenation",
		Description: "Concatenating input into SQL allows injection.",
		Suggestion:  "Use parameterized queries.",
		Confidence:  0.7,
	},
	{
		ID:          "command-injection",
		Pattern:     regexp.MustCompile(`(?i)((os\.)?system|shell_exec|popen)\s*\(.*(\$|\+|%s|\{)|Runtime\.getRuntime\(\)\.exec\(.*\+|subprocess\.\w+\(.*shell\s*=\s*True`),
		Severity:    findings.SeverityCritical,
		Category:    findings.CategorySecurity,
		Message:     "Shell command built from dynamic input",
		Description: "Passing untrusted data to a shell allows command injection.",
		Suggestion:  "Pass arguments as a list and avoid the shell.",
		Confidence:  0.7,
	},
	{
		ID:          "weak-cryptography",
		Pattern:     regexp.MustCompile(`(?i)\b(md5|sha1|des|rc4)\s*\.?\s*(new\s*)?\(|MessageDigest\.getInstance\s*\(\s*["'](MD5|SHA-?1)["']|crypto/(md5|sha1|des|rc4)"`),
		Severity:    findings.SeverityHigh,
		Category:    findings.CategorySecurity,
		Message:     "Weak cryptographic algorithm",
		Description: "MD5, SHA-1, DES and RC4 are broken for security use.",
		Suggestion:  "Use SHA-256 or stronger, and AES-GCM for encryption.",
		Confidence:  0.75,
	},
	{
		ID:         "unsafe-eval",
		Pattern:    regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`),
		Severity:   findings.SeverityCritical,
		Category:   findings.CategorySecurity,
		Message:    "Dynamic code evaluation",
		Suggestion: "Avoid eval; parse data explicitly.",
		Confidence: 0.8,
		Extensions: append(append([]string{".php", ".rb"}, jsExtensions...), pythonExtensions...),
	},
	{
		ID:         "xss-sink",
		Pattern:    regexp.MustCompile(`(?i)innerHTML\s*=.*\+|document\.write\s*\(.*\+|dangerouslySetInnerHTML`),
		Severity:   findings.SeverityHigh,
		Category:   findings.CategorySecurity,
		Message:    "Unescaped HTML sink",
		Suggestion: "Use textContent or a sanitizer.",
		Confidence: 0.7,
		Extensions: append([]string{".html", ".vue", ".svelte"}, jsExtensions...),
	},
	{
		ID:         "insecure-http",
		Pattern:    regexp.MustCompile(`["']http://[^"'\s]+["']`),
		Skip:       regexp.MustCompile(`http://(localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\]|www\.w3\.org|schemas\.|example\.)`),
		Severity:   findings.SeverityMedium,
		Category:   findings.CategorySecurity,
		Message:    "Plain HTTP URL",
		Suggestion: "Use HTTPS.",
		Confidence: 0.5,
	},
	{
		ID:          "tls-verification-disabled",
		Pattern:     regexp.MustCompile(`InsecureSkipVerify:\s*true|verify\s*=\s*False|rejectUnauthorized:\s*false`),
		Severity:    findings.SeverityHigh,
		Category:    findings.CategorySecurity,
		Message:     "TLS certificate verification disabled",
		Description: "Disabling verification allows man-in-the-middle attacks.",
		Suggestion:  "Keep verification on and trust the right CA instead.",
		Confidence:  0.85,
	},
	{
		ID:         "unsafe-deserialization",
		Pattern:    regexp.MustCompile(`pickle\.loads?\(|yaml\.load\(|ObjectInputStream\s*\(|\bunserialize\s*\(`),
		Skip:       regexp.MustCompile(`SafeLoader|safe_load`),
		Severity:   findings.SeverityHigh,
		Category:   findings.CategorySecurity,
		Message:    "Unsafe deserialization",
		Suggestion: "Deserialize only trusted data, with a safe loader.",
		Confidence: 0.7,
	},
	{
		ID:         "weak-random",
		Pattern:    regexp.MustCompile(`Math\.random\(\)|\brandom\.(random|randint)\(|"math/rand"`),
		Severity:   findings.SeverityMedium,
		Category:   findings.CategorySecurity,
		Message:    "Non-cryptographic random number generator",
		Suggestion: "Use a cryptographically secure generator for tokens and keys.",
		Confidence: 0.4,
	},
	{
		ID:         "path-traversal",
		Pattern:    regexp.MustCompile(`(?i)(open|readFile|readFileSync|ReadFile|File)\s*\(.*(req\.|request\.|params|\.\./)`),
		Severity:   findings.SeverityHigh,
		Category:   findings.CategorySecurity,
		Message:    "File path built from request data",
		Suggestion: "Resolve the path and check it stays under an allowed root.",
		Confidence: 0.6,
	},
}

var sensitiveFilenames = []string{
	".env", "id_rsa", "id_dsa", "id_ecdsa", "id_ed25519", "private.key", "private.pem",
	"credentials", "credentials.json", ".npmrc", ".pypirc", ".htpasswd", "database.yml",
}

var securityExtensions = []string{
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".java", ".kt", ".scala",
	".rb", ".php", ".rs", ".c", ".cc", ".cpp", ".h", ".cs", ".swift", ".sh", ".bash",
	".html", ".vue", ".svelte", ".sql", ".yaml", ".yml", ".json", ".toml", ".ini", ".xml",
	".properties", ".conf", ".cfg", ".tf", ".env", ".pem", ".key",
}

// Security flags vulnerable patterns line by line and reports sensitive files by name.
type Security struct {
	lineAnalyzer
}

func NewSecurity() *Security {
	return &Security{
		lineAnalyzer: lineAnalyzer{
			name:       SecurityName,
			rules:      securityRules,
			extensions: set(securityExtensions...),
			filenames:  set(sensitiveFilenames...),
		},
	}
}

func (a *Security) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	out, err := a.lineAnalyzer.Analyze(ctx, path, content)
	if err != nil {
		return nil, err
	}
	if a.filenames[strings.ToLower(filepath.Base(path))] {
		out = append(out, findings.New(SecurityName, "sensitive-file", path, 0, findings.SeverityHigh, findings.CategorySecurity, "Sensitive file committed to the repository").
			WithDescription("Files of this kind usually hold credentials or private keys.").
			WithSuggestion("Remove the file from version control and rotate its secrets.").
			WithConfidence(0.6))
	}
	return out, nil
}
