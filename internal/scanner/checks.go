package scanner

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joshsymonds/apisentry/internal/models"
)

// Finding categories emitted by the passive checks.
const (
	CategorySensitiveData     = "Sensitive Data Exposure"
	CategoryMisconfiguration  = "Security Misconfiguration"
	CategoryBrokenAuth        = "API2: Broken Authentication"
	CategoryBOLA              = "API1: BOLA"
	CategoryPropertyLevelAuth = "API3: Broken Object Property Level Authorization"
)

// DefaultSensitiveKeywords are matched case-insensitively in responses.
var DefaultSensitiveKeywords = []string{
	"ssn", "social_security", "password", "secret", "api_key", "apikey",
	"access_token", "private_key", "credit_card",
}

var (
	jwtPattern     = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]+`)
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	paramSegment   = regexp.MustCompile(`(?i)^(\{[^}]*id\}|:[a-z_]*id)$`)

	privilegedFields = map[string]bool{
		"is_admin": true, "isadmin": true, "admin": true, "role": true, "roles": true,
		"permissions": true, "owner_id": true, "ownerid": true, "balance": true,
		"verified": true, "is_verified": true,
	}

	authHeaders = []string{"Authorization", "Cookie", "X-Api-Key", "X-Auth-Token"}
)

// Check inspects one asset's stored traffic.
type Check interface {
	Name() string
	Evaluate(asset models.Asset, ex Exchange) []models.Finding
}

// DefaultChecks returns the passive rule set.
func DefaultChecks(keywords []string) []Check {
	if len(keywords) == 0 {
		keywords = DefaultSensitiveKeywords
	}
	return []Check{
		sensitiveDataCheck{keywords: keywords},
		serverErrorCheck{},
		missingAuthCheck{},
		objectIDCheck{},
		privilegedFieldCheck{},
	}
}

type sensitiveDataCheck struct {
	keywords []string
}

func (sensitiveDataCheck) Name() string { return "sensitive-data" }

func (c sensitiveDataCheck) Evaluate(asset models.Asset, ex Exchange) []models.Finding {
	if !ex.HasResponse {
		return nil
	}
	body := strings.ToLower(ex.ResponseBody)
	var hits []string
	for _, kw := range c.keywords {
		if strings.Contains(body, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	if jwtPattern.MatchString(ex.ResponseBody) {
		hits = append(hits, "jwt")
	}
	if len(hits) == 0 {
		return nil
	}
	f := models.NewFinding(asset.ID, CategorySensitiveData, models.SeverityHigh,
		fmt.Sprintf("Potential PII or secrets in response body (%s).", strings.Join(hits, ", ")))
	return []models.Finding{f.WithEvidence(truncateRunes(ex.ResponseBody, 200))}
}

type serverErrorCheck struct{}

func (serverErrorCheck) Name() string { return "server-error" }

func (serverErrorCheck) Evaluate(asset models.Asset, ex Exchange) []models.Finding {
	if ex.Status < 500 || ex.Status > 599 {
		return nil
	}
	f := models.NewFinding(asset.ID, CategoryMisconfiguration, models.SeverityMedium,
		"Endpoint returned a 500-level error, potentially leaking stack traces.")
	return []models.Finding{f.WithEvidence(fmt.Sprintf("Status: %d", ex.Status))}
}

type missingAuthCheck struct{}

func (missingAuthCheck) Name() string { return "missing-auth" }

func (missingAuthCheck) Evaluate(asset models.Asset, ex Exchange) []models.Finding {
	switch asset.Method {
	case models.MethodPost, models.MethodPut, models.MethodPatch, models.MethodDelete:
	default:
		return nil
	}
	if !ex.HasRequest || len(ex.RequestHeaders) == 0 {
		return nil
	}
	for _, h := range authHeaders {
		if ex.RequestHeaders.Get(h) != "" {
			return nil
		}
	}
	f := models.NewFinding(asset.ID, CategoryBrokenAuth, models.SeverityMedium,
		fmt.Sprintf("State-changing %s request carries no authentication material.", asset.Method))
	return []models.Finding{f}
}

type objectIDCheck struct{}

func (objectIDCheck) Name() string { return "object-id" }

func (objectIDCheck) Evaluate(asset models.Asset, _ Exchange) []models.Finding {
	path := asset.Endpoint
	if u, err := url.Parse(asset.Endpoint); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, seg := range strings.Split(path, "/") {
		if numericSegment.MatchString(seg) || uuidSegment.MatchString(seg) || paramSegment.MatchString(seg) {
			f := models.NewFinding(asset.ID, CategoryBOLA, models.SeverityLow,
				"Path addresses an object by identifier; verify object-level authorization.")
			return []models.Finding{f.WithEvidence(seg)}
		}
	}
	return nil
}

type privilegedFieldCheck struct{}

func (privilegedFieldCheck) Name() string { return "privileged-fields" }

func (privilegedFieldCheck) Evaluate(asset models.Asset, ex Exchange) []models.Finding {
	body := strings.TrimSpace(ex.RequestBody)
	if body == "" || !gjson.Valid(body) {
		return nil
	}
	var fields []string
	gjson.Parse(body).ForEach(func(key, _ gjson.Result) bool {
		if privilegedFields[strings.ToLower(key.String())] {
			fields = append(fields, key.String())
		}
		return true
	})
	if len(fields) == 0 {
		return nil
	}
	f := models.NewFinding(asset.ID, CategoryPropertyLevelAuth, models.SeverityLow,
		"Request body sets privileged properties; check for mass assignment.")
	return []models.Finding{f.WithEvidence(strings.Join(fields, ", "))}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
