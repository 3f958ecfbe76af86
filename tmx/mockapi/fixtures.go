package mockapi

import (
	"fmt"

	"github.com/threatmodelerx/go-api/tmx"
)

// Step is one scripted status reply. Progress is sent verbatim, so "40%" and ""
// exercise the client's decoding paths.
type Step struct {
	Status   tmx.ScanStatus
	Stage    string
	Progress string
	Details  string
	Error    string
}

// DefaultScript walks a scan through the backend's stages and completes it.
func DefaultScript() []Step {
	return []Step{
		{Status: tmx.StatusRunning, Stage: "initializing", Progress: "0%", Details: "Setting up scan environment"},
		{Status: tmx.StatusRunning, Stage: "running SAST scanners", Progress: "10%", Details: "Initializing security scanners"},
		{Status: tmx.StatusRunning, Stage: "processing SAST results", Progress: "40%", Details: "Analyzing scanner findings"},
		{Status: tmx.StatusRunning, Stage: "SAST scan completed", Progress: "60%", Details: fmt.Sprintf("Found %d vulnerabilities", len(fixtureFindings))},
		{Status: tmx.StatusRunning, Stage: "threat modeling completed", Progress: "80%"},
		{Status: tmx.StatusCompleted, Stage: "finalizing results", Progress: "100%"},
	}
}

// FailedScript ends a scan with a backend-reported failure.
func FailedScript(message string) []Step {
	return []Step{
		{Status: tmx.StatusRunning, Stage: "initializing", Progress: "0%", Details: "Setting up scan environment"},
		{Status: tmx.StatusFailed, Error: message},
	}
}

var fixtureFindings = []tmx.Finding{
	{
		Tool: "bandit", Language: "python", File: "app.py", Line: 42, CWE: "CWE-78",
		Severity: tmx.SeverityCritical, Component: "ping endpoint",
		Description:   "Command injection through subprocess call with shell=True",
		Evidence:      `subprocess.call("ping -c 1 " + host, shell=True)`,
		FixSuggestion: "Pass an argument list and drop shell=True",
		RiskScore:     9.8,
	},
	{
		Tool: "semgrep", Language: "python", File: "app.py", Line: 61, CWE: "CWE-89",
		Severity: tmx.SeverityCritical, Component: "user lookup",
		Description:   "SQL query built with string formatting",
		Evidence:      `cursor.execute(f"SELECT * FROM users WHERE id = {user_id}")`,
		FixSuggestion: "Use a parameterized query",
		RiskScore:     9.1,
	},
	{
		Tool: "semgrep", Language: "python", File: "app.py", Line: 88, CWE: "CWE-95",
		Severity: tmx.SeverityHigh, Component: "calculator",
		Description:   "User input passed to eval()",
		Evidence:      `eval(request.args.get("expr"))`,
		FixSuggestion: "Parse the expression with a safe evaluator",
		RiskScore:     8.2,
	},
	{
		Tool: "semgrep", Language: "javascript", File: "app.js", Line: 27, CWE: "CWE-79",
		Severity: tmx.SeverityHigh, Component: "search page",
		Description:   "Reflected input rendered without escaping",
		Evidence:      "res.send(`<h1>${req.query.q}</h1>`)",
		FixSuggestion: "Escape output or use a template engine with autoescape",
		RiskScore:     7.4,
	},
	{
		Tool: "gosec", Language: "go", File: "main.go", Line: 53, CWE: "CWE-22",
		Severity: tmx.SeverityHigh, Component: "file download",
		Description:   "File path built from request parameter",
		Evidence:      `os.ReadFile("./files/" + c.Query("name"))`,
		FixSuggestion: "Clean the path and check it stays under the base directory",
		RiskScore:     7.1,
	},
	{
		Tool: "bandit", Language: "python", File: "config.py", Line: 5, CWE: "CWE-798",
		Severity: tmx.SeverityMedium, Component: "configuration",
		Description:   "Hardcoded password",
		Evidence:      `DB_PASSWORD = "admin123"`,
		FixSuggestion: "Read secrets from the environment",
		RiskScore:     5.5,
	},
	{
		Tool: "gosec", Language: "go", File: "token.go", Line: 14, CWE: "CWE-338",
		Severity: tmx.SeverityLow, Component: "session tokens",
		Description:   "Weak random number generator used for tokens",
		Evidence:      `rand.Intn(1000000)`,
		FixSuggestion: "Use crypto/rand",
		RiskScore:     3.2,
	},
}

var fixtureThreats = []tmx.Threat{
	{
		Category: tmx.StrideElevationOfPrivilege, Component: "ping endpoint",
		Description: "Remote command execution through the ping endpoint", AttackVector: "Network",
		MitreIDs: []string{"T1059"}, CWEIDs: []string{"CWE-78"}, RiskLevel: tmx.SeverityCritical,
		Mitigation: "Avoid shell invocation and validate host input",
	},
	{
		Category: tmx.StrideTampering, Component: "user lookup",
		Description: "Database tampering through SQL injection", AttackVector: "Network",
		MitreIDs: []string{"T1190"}, CWEIDs: []string{"CWE-89"}, RiskLevel: tmx.SeverityCritical,
		Mitigation: "Parameterize all queries",
	},
	{
		Category: tmx.StrideInformationDisclosure, Component: "file download",
		Description: "Arbitrary file read through path traversal", AttackVector: "Network",
		MitreIDs: []string{"T1083"}, CWEIDs: []string{"CWE-22"}, RiskLevel: tmx.SeverityHigh,
		Mitigation: "Restrict reads to an allow-listed directory",
	},
	{
		Category: tmx.StrideSpoofing, Component: "session tokens",
		Description: "Predictable tokens allow session hijacking", AttackVector: "Network",
		MitreIDs: []string{"T1539"}, CWEIDs: []string{"CWE-338", "CWE-798"}, RiskLevel: tmx.SeverityMedium,
		Mitigation: "Generate tokens with a CSPRNG and rotate leaked credentials",
	},
	{
		Category: tmx.StrideRepudiation, Component: "search page",
		Description: "Injected script acts on behalf of the victim", AttackVector: "Network",
		MitreIDs: []string{"T1189"}, CWEIDs: []string{"CWE-79"}, RiskLevel: tmx.SeverityHigh,
		Mitigation: "Escape output and set a Content Security Policy",
	},
}

var fixtureDemoApps = []tmx.DemoApp{
	{
		ID: "python-flask", Name: "Python Flask", Icon: "🐍", Path: "./demo-apps/python-flask", Language: "python",
		Description:     "Flask app with injection flaws",
		Vulnerabilities: []string{"Command Injection", "SQL Injection", "Code Injection", "Hardcoded Secrets"},
	},
	{
		ID: "node-express", Name: "Node Express", Icon: "🟢", Path: "./demo-apps/node-express", Language: "javascript",
		Description:     "Express app with XSS and injection flaws",
		Vulnerabilities: []string{"Cross-Site Scripting", "Command Injection"},
	},
	{
		ID: "go-gin", Name: "Go Gin", Icon: "🐹", Path: "./demo-apps/go-gin", Language: "go",
		Description:     "Gin app with file and randomness flaws",
		Vulnerabilities: []string{"Path Traversal", "Weak Randomness"},
	},
	{
		ID: "java-spring", Name: "Java Spring", Icon: "☕", Path: "./demo-apps/java-spring", Language: "java",
		Description:     "Spring app with deserialization flaws",
		Vulnerabilities: []string{"Insecure Deserialization", "SQL Injection"},
	},
}

type remediationTemplate struct {
	steps     []string
	snippet   string
	resources []string
}

var remediationTemplates = map[string]remediationTemplate{
	"CWE-89": {
		steps: []string{
			"Identify all SQL query construction points in the code",
			"Replace string concatenation with parameterized queries",
			"Validate and sanitize user inputs",
			"Test with sqlmap or similar tools to verify the fix",
		},
		snippet:   "cursor.execute(\"SELECT * FROM users WHERE id = ?\", (user_id,))",
		resources: []string{"https://cheatsheetseries.owasp.org/cheatsheets/SQL_Injection_Prevention_Cheat_Sheet.html"},
	},
	"CWE-78": {
		steps: []string{
			"Replace shell invocations with argument lists",
			"Allow-list the commands that may run",
			"Test with command injection payloads",
		},
		snippet:   "subprocess.run([\"ping\", \"-c\", \"1\", host], check=True)",
		resources: []string{"https://owasp.org/www-community/attacks/Command_Injection"},
	},
	"CWE-79": {
		steps: []string{
			"Identify all user input rendering points",
			"Use framework escaping",
			"Add a Content Security Policy header",
		},
		resources: []string{"https://cheatsheetseries.owasp.org/cheatsheets/Cross_Site_Scripting_Prevention_Cheat_Sheet.html"},
	},
	"CWE-798": {
		steps: []string{
			"Remove hardcoded credentials from source code",
			"Load secrets from the environment or a secret manager",
			"Rotate the exposed credentials",
		},
		snippet:   "password = os.getenv(\"DB_PASSWORD\")",
		resources: []string{"https://owasp.org/www-community/vulnerabilities/Use_of_hard-coded_password"},
	},
}

var defaultTemplate = remediationTemplate{
	steps:     []string{"Review the security issue", "Apply appropriate fixes", "Test the changes"},
	resources: []string{"https://cwe.mitre.org/"},
}

var effortByCWE = map[string]string{
	"CWE-798": "1-2 hours",
	"CWE-89":  "2-4 hours",
	"CWE-78":  "2-4 hours",
	"CWE-79":  "1-3 hours",
	"CWE-338": "1-2 hours",
}

func remediationFor(f tmx.Finding) tmx.RemediationPlan {
	tmpl, ok := remediationTemplates[f.CWE]
	if !ok {
		tmpl = defaultTemplate
	}
	effort, ok := effortByCWE[f.CWE]
	if !ok {
		effort = "2-4 hours"
	}
	return tmx.RemediationPlan{
		FindingID:       f.ID,
		Priority:        priorityOf(f),
		EstimatedEffort: effort,
		Steps:           append([]string(nil), tmpl.steps...),
		CodeSnippet:     tmpl.snippet,
		Resources:       append([]string(nil), tmpl.resources...),
	}
}

func priorityOf(f tmx.Finding) int {
	switch f.Severity {
	case tmx.SeverityCritical:
		return 1
	case tmx.SeverityHigh:
		if f.RiskScore > 5 {
			return 2
		}
		return 3
	case tmx.SeverityMedium:
		return 4
	}
	return 5
}
