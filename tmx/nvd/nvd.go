// Package nvd looks up CVEs related to a finding's CWE in the NVD 2.0 API.
package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultBaseURL is the NVD CVE 2.0 endpoint.
const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// =============== Types ===============

// Top-level response
type Response struct {
	ResultsPerPage  int       `json:"resultsPerPage"`
	StartIndex      int       `json:"startIndex"`
	TotalResults    int       `json:"totalResults"`
	Vulnerabilities []CVEItem `json:"vulnerabilities"`
}

// An item in the "vulnerabilities" array
type CVEItem struct {
	CVE CVE `json:"cve"`
}

// CVE holds the fields the remediation view shows.
type CVE struct {
	ID           string       `json:"id"`
	VulnStatus   string       `json:"vulnStatus"`
	Published    string       `json:"published"`
	Descriptions []LangString `json:"descriptions"`
	References   []Reference  `json:"references"`
	Metrics      Metrics      `json:"metrics,omitempty"`
	Weaknesses   []Weakness   `json:"weaknesses,omitempty"`
}

type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Reference struct {
	URL    string   `json:"url"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Metrics keeps the CVSS v3.x blocks only.
type Metrics struct {
	CvssMetricV31 []CvssV3 `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CvssV3 `json:"cvssMetricV30,omitempty"`
}

type CvssV3 struct {
	Source   string     `json:"source"`
	Type     string     `json:"type"`
	CvssData CvssDataV3 `json:"cvssData"`
}

type CvssDataV3 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

type Weakness struct {
	Source      string       `json:"source"`
	Type        string       `json:"type"`
	Description []LangString `json:"description"`
}

// Description returns the English description, or the first one present.
func (c CVE) Description() string {
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(c.Descriptions) > 0 {
		return c.Descriptions[0].Value
	}
	return ""
}

// Score returns the primary CVSS v3 base score and severity, preferring v3.1.
func (c CVE) Score() (float64, string) {
	for _, set := range [][]CvssV3{c.Metrics.CvssMetricV31, c.Metrics.CvssMetricV30} {
		if len(set) == 0 {
			continue
		}
		best := set[0]
		for _, m := range set {
			if m.Type == "Primary" {
				best = m
				break
			}
		}
		return best.CvssData.BaseScore, best.CvssData.BaseSeverity
	}
	return 0, ""
}

// Summary is the condensed view of a CVE.
type Summary struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Severity    string  `json:"severity,omitempty"`
	Published   string  `json:"published"`
}

func (c CVE) Summary() Summary {
	score, severity := c.Score()
	return Summary{ID: c.ID, Description: c.Description(), Score: score, Severity: severity, Published: c.Published}
}

// =============== Client ===============

// Config selects the NVD endpoint and credentials.
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{BaseURL: DefaultBaseURL, Timeout: 30 * time.Second}
}

// LoadConfigFromEnv loads NVD configuration from environment variables
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()
	if v := os.Getenv("TMX_NVD_URL"); v != "" {
		config.BaseURL = v
	}
	config.APIKey = os.Getenv("NVD_API_KEY")
	return config
}

type Client struct {
	config     *Config
	httpClient *http.Client
}

func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{config: config, httpClient: &http.Client{Timeout: config.Timeout}}
}

// GetCVE fetches one CVE by id. A missing CVE returns the zero CVE and no error.
func (c *Client) GetCVE(ctx context.Context, id string) (CVE, error) {
	resp, err := c.query(ctx, url.Values{"cveId": {id}})
	if err != nil {
		return CVE{}, err
	}
	if len(resp.Vulnerabilities) == 0 {
		return CVE{}, nil
	}
	return resp.Vulnerabilities[0].CVE, nil
}

// RelatedCVEs returns up to limit CVEs classified under cweID ("CWE-89" or "89"),
// highest score first.
func (c *Client) RelatedCVEs(ctx context.Context, cweID string, limit int) ([]Summary, error) {
	cweID = NormalizeCWE(cweID)
	if cweID == "" {
		return nil, fmt.Errorf("invalid CWE id")
	}
	if limit <= 0 {
		limit = 5
	}

	resp, err := c.query(ctx, url.Values{"cweId": {cweID}, "resultsPerPage": {fmt.Sprint(limit)}})
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(resp.Vulnerabilities))
	for _, v := range resp.Vulnerabilities {
		out = append(out, v.CVE.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NormalizeCWE returns "CWE-<n>" for "CWE-n", "cwe-n" or "n", or "" for anything else.
func NormalizeCWE(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "CWE-")
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return "CWE-" + s
}

func (c *Client) query(ctx context.Context, q url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("apiKey", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d from NVD API", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	var out Response
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return &out, nil
}
